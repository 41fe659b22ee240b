package domain

import (
	"time"
)

// GroupID identifies a logical node group (one coin or service integration).
type GroupID string

const (
	GroupADM  GroupID = "adm"
	GroupETH  GroupID = "eth"
	GroupBTC  GroupID = "btc"
	GroupDOGE GroupID = "doge"
	GroupDASH GroupID = "dash"
	GroupLSK  GroupID = "lsk"
)

// NodeGroup is the static policy shared by all nodes of a group.
type NodeGroup struct {
	ID   GroupID
	Name string // used in user-facing errors

	MinVersion    string
	HeightEpsilon int

	NormalUpdateInterval  time.Duration
	CrucialUpdateInterval time.Duration
	ProbeTimeout          time.Duration
}

// IsOutdated reports whether version is parseable and below MinVersion.
// Unparseable versions are never outdated.
func (g NodeGroup) IsOutdated(version string) bool {
	if g.MinVersion == "" || version == "" {
		return false
	}
	minVersion, ok := ParseVersion(g.MinVersion)
	if !ok {
		return false
	}
	v, ok := ParseVersion(version)
	if !ok {
		return false
	}
	return v.Less(minVersion)
}

// DefaultGroups holds the compiled-in policy per group.
var DefaultGroups = map[GroupID]NodeGroup{
	GroupADM: {
		ID:                    GroupADM,
		Name:                  "ADAMANT",
		MinVersion:            "0.8.0",
		HeightEpsilon:         10,
		NormalUpdateInterval:  210 * time.Second,
		CrucialUpdateInterval: 30 * time.Second,
		ProbeTimeout:          15 * time.Second,
	},
	GroupETH: {
		ID:                    GroupETH,
		Name:                  "Ethereum",
		HeightEpsilon:         5,
		NormalUpdateInterval:  300 * time.Second,
		CrucialUpdateInterval: 30 * time.Second,
		ProbeTimeout:          15 * time.Second,
	},
	GroupBTC: {
		ID:                    GroupBTC,
		Name:                  "Bitcoin",
		HeightEpsilon:         2,
		NormalUpdateInterval:  360 * time.Second,
		CrucialUpdateInterval: 30 * time.Second,
		ProbeTimeout:          15 * time.Second,
	},
	GroupDOGE: {
		ID:                    GroupDOGE,
		Name:                  "Dogecoin",
		HeightEpsilon:         3,
		NormalUpdateInterval:  360 * time.Second,
		CrucialUpdateInterval: 30 * time.Second,
		ProbeTimeout:          15 * time.Second,
	},
	GroupDASH: {
		ID:                    GroupDASH,
		Name:                  "Dash",
		HeightEpsilon:         3,
		NormalUpdateInterval:  210 * time.Second,
		CrucialUpdateInterval: 30 * time.Second,
		ProbeTimeout:          15 * time.Second,
	},
	GroupLSK: {
		ID:                    GroupLSK,
		Name:                  "Lisk",
		MinVersion:            "4.0.0",
		HeightEpsilon:         5,
		NormalUpdateInterval:  270 * time.Second,
		CrucialUpdateInterval: 30 * time.Second,
		ProbeTimeout:          15 * time.Second,
	},
}
