package ws

import (
	"encoding/json"
	"math/rand"
)

// Region selects which streaming cluster to connect to.
type Region string

const (
	RegionUSWest    Region = "us-west"
	RegionUSCentral Region = "us-central"
	RegionUSEast    Region = "us-east"
	RegionEUWest    Region = "eu-west"
	RegionEUCentral Region = "eu-central"
	RegionEUEast    Region = "eu-east"
	RegionAsia      Region = "asia"
	RegionAustralia Region = "australia"
	RegionGlobal    Region = "global"
)

// tokenPriceHost serves the dedicated token-price stream regardless of
// region.
const tokenPriceHost = "socket8.axiom.trade"

var regionHosts = map[Region][]string{
	RegionUSWest:    {"socket8.axiom.trade", "cluster-usw2.axiom.trade"},
	RegionUSCentral: {"cluster3.axiom.trade", "cluster-usc2.axiom.trade"},
	RegionUSEast:    {"cluster5.axiom.trade", "cluster-use2.axiom.trade"},
	RegionEUWest:    {"cluster6.axiom.trade", "cluster-euw2.axiom.trade"},
	RegionEUCentral: {"cluster2.axiom.trade", "cluster-euc2.axiom.trade"},
	RegionEUEast:    {"cluster8.axiom.trade"},
	RegionAsia:      {"cluster4.axiom.trade"},
	RegionAustralia: {"cluster7.axiom.trade"},
	RegionGlobal:    {"cluster9.axiom.trade"},
}

// Hosts returns the cluster hosts serving the region.
func (r Region) Hosts() []string {
	hosts, ok := regionHosts[r]
	if !ok {
		hosts = regionHosts[RegionGlobal]
	}
	return append([]string(nil), hosts...)
}

func (r Region) randomHost() string {
	hosts := r.Hosts()
	return hosts[rand.Intn(len(hosts))]
}

// Message is the raw envelope the stream delivers: a room name and its
// payload.
type Message struct {
	Room    string          `json:"room"`
	Content json.RawMessage `json:"content"`
}

// joinMessage is the subscription frame sent to the server.
type joinMessage struct {
	Action string `json:"action"`
	Room   string `json:"room"`
}

// NewPairEvent is a token listing delivered on the new_pairs room.
type NewPairEvent struct {
	TokenAddress        string  `json:"token_address"`
	TokenName           string  `json:"token_name"`
	TokenTicker         string  `json:"token_ticker"`
	InitialLiquiditySOL float64 `json:"initial_liquidity_sol"`
	Supply              float64 `json:"supply"`
}

// roomNewPairs carries newly listed token pairs.
const roomNewPairs = "new_pairs"
