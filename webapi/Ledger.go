/*
File Name:  Ledger.go
Copyright:  2021 Peernet Foundation s.r.o.
Author:     Peter Kleissner

The ledger routes allow other nodes to use the ledger of this node via ledger.Remote.
*/

package webapi

import (
	"encoding/hex"
	"net/http"
	"strconv"

	"github.com/PeernetOfficial/seeddht/ledger"
	"github.com/PeernetOfficial/seeddht/protocol"
)

/*
apiLedgerLatest returns the number of the latest block
Request:    GET /ledger/latest
Result:     200 with JSON structure ledger.APIBlockNumber
*/
func (api *WebapiInstance) apiLedgerLatest(w http.ResponseWriter, r *http.Request) {
	EncodeJSON(api.Backend, w, r, ledger.APIBlockNumber{Number: api.Backend.Oracle.LatestBlockNumber()})
}

/*
apiLedgerBlock returns the header of a block
Request:    GET /ledger/block?number=[block number]
Result:     200 with JSON structure ledger.APIHeader
            400 Invalid block number
            404 Block not found
*/
func (api *WebapiInstance) apiLedgerBlock(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	number, err := strconv.ParseInt(r.Form.Get("number"), 10, 64)
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	header, found := api.Backend.Oracle.BlockHeaderAt(number)
	if !found {
		http.Error(w, "", http.StatusNotFound)
		return
	}

	EncodeJSON(api.Backend, w, r, ledger.HeaderToAPI(header))
}

func decodeTokenHex(text string) (token *protocol.Token, err error) {
	raw, err := hex.DecodeString(text)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeToken(raw)
}

/*
apiLedgerToken returns the block at which the token is recorded
Request:    GET /ledger/token?token=[hex encoded token]
Result:     200 with JSON structure ledger.APIBlockNumber
            400 Invalid token
            404 Token not recorded
*/
func (api *WebapiInstance) apiLedgerToken(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	token, err := decodeTokenHex(r.Form.Get("token"))
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	number := api.Backend.Oracle.LastRecordedBlockOf(token)
	if number < 0 {
		http.Error(w, "", http.StatusNotFound)
		return
	}

	EncodeJSON(api.Backend, w, r, ledger.APIBlockNumber{Number: number})
}

/*
apiLedgerSubmit submits a token to the ledger
Request:    POST /ledger/submit with JSON structure ledger.APIToken
Result:     200 Submitted
            400 Invalid token or rejected by the ledger
*/
func (api *WebapiInstance) apiLedgerSubmit(w http.ResponseWriter, r *http.Request) {
	var input ledger.APIToken
	if err := DecodeJSON(w, r, &input); err != nil {
		return
	}

	token, err := decodeTokenHex(input.Token)
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	if err := api.Backend.Oracle.Submit(token); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
}
