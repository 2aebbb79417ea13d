/*
File Name:  Status.go
Copyright:  2021 Peernet Foundation s.r.o.
Author:     Peter Kleissner
*/

package webapi

import (
	"encoding/hex"
	"net/http"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
)

// statusInterval is the interval of status updates sent via web-socket
const statusInterval = time.Second

func apiTest(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type apiResponseStatus struct {
	Status           int    `json:"status"`           // Status code: 0 = Ok.
	IsStarted        bool   `json:"isstarted"`        // Whether bootstrapping finished.
	IsConnected      bool   `json:"isconnected"`      // Whether at least one valid peer is in the routing table.
	HasToken         bool   `json:"hastoken"`         // Whether the local node holds a valid token.
	CountPeers       int    `json:"countpeers"`       // Count of peers in the routing table.
	CountKeys        int    `json:"countkeys"`        // Count of keys stored for the current and last epoch.
	PeerID           string `json:"peerid"`           // Peer ID. This is the public key in compressed form.
	NodeID           string `json:"nodeid"`           // Node ID. This is the blake3 hash of the peer ID and used in the DHT.
	LatestBlock      int64  `json:"latestblock"`      // Latest block of the ledger.
	CurrentSeedBlock int64  `json:"currentseedblock"` // Block number of the current seed.
}

func (api *WebapiInstance) status() (status apiResponseStatus) {
	backend := api.Backend
	_, publicKey := backend.ExportPrivateKey()
	nodeID := backend.SelfNodeID()

	status.CountPeers = backend.Table.Count()
	status.IsConnected = status.CountPeers > 0
	status.PeerID = hex.EncodeToString(publicKey.SerializeCompressed())
	status.NodeID = hex.EncodeToString(nodeID[:])
	status.LatestBlock = backend.Epochs.LatestBlockNumber()
	status.CurrentSeedBlock = backend.Epochs.CurrentSeedBlock()

	select {
	case <-backend.Started():
		status.IsStarted = true
	default:
	}

	if self := backend.Self(); self != nil {
		status.HasToken = backend.Validator.IsOldWorker(self)
	}

	keys, _ := backend.Holder.Count()
	status.CountKeys = keys[0] + keys[1]

	return status
}

/*
apiStatus returns the current status of the node
Request:    GET /status
Result:     200 with JSON structure apiResponseStatus
*/
func (api *WebapiInstance) apiStatus(w http.ResponseWriter, r *http.Request) {
	EncodeJSON(api.Backend, w, r, api.status())
}

/*
apiStatusStream sends the status every second via web-socket until the connection breaks.
Request:    GET /status/ws
Result:     Upgrade to a web-socket, sends JSON structure apiResponseStatus messages
*/
func (api *WebapiInstance) apiStatusStream(w http.ResponseWriter, r *http.Request) {
	conn, err := WSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// gorilla will automatically respond with "400 Bad Request", no other response is therefore necessary
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(api.status()); err != nil {
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

type apiPeer struct {
	PeerID      string `json:"peerid"`      // Peer ID hex encoded.
	NodeID      string `json:"nodeid"`      // Node ID hex encoded.
	Address     string `json:"address"`     // IP and ports
	SeedBlock   int64  `json:"seedblock"`   // Seed block the token was mined for
	RecordBlock int64  `json:"recordblock"` // Block at which the token is recorded
}

type apiResponsePeers struct {
	Peers []apiPeer `json:"peers"`
}

func nodeToAPI(node *protocol.ExtendedNode) apiPeer {
	id := node.ID()
	token := node.Token()
	return apiPeer{
		PeerID:      hex.EncodeToString(node.PublicKey().SerializeCompressed()),
		NodeID:      hex.EncodeToString(id[:]),
		Address:     node.Address().String(),
		SeedBlock:   token.SeedBlockNumber,
		RecordBlock: node.TokenBlockNumber(),
	}
}

func nodesToAPI(nodes []*protocol.ExtendedNode) (result apiResponsePeers) {
	result.Peers = []apiPeer{}
	for _, node := range nodes {
		result.Peers = append(result.Peers, nodeToAPI(node))
	}
	return result
}

/*
apiStatusPeers returns all peers in the routing table
Request:    GET /status/peers
Result:     200 with JSON structure apiResponsePeers
*/
func (api *WebapiInstance) apiStatusPeers(w http.ResponseWriter, r *http.Request) {
	EncodeJSON(api.Backend, w, r, nodesToAPI(api.Backend.Table.AllNodes()))
}
