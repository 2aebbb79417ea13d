/*
File Name:  DHT.go
Copyright:  2021 Peernet Foundation s.r.o.
Author:     Peter Kleissner
*/

package webapi

import (
	"encoding/hex"
	"net/http"

	"github.com/PeernetOfficial/seeddht/protocol"
)

type apiTokenInfo struct {
	SeedBlock int64  `json:"seedblock"` // Seed block the token was mined for
	Nonce     int64  `json:"nonce"`     // Nonce
	Hash      string `json:"hash"`      // Transaction hash of the token, hex encoded
}

type apiResponseToken struct {
	Status      int            `json:"status"`      // 0 = Active token available, 1 = No active token
	Active      *apiTokenInfo  `json:"active"`      // Active token
	RecordBlock int64          `json:"recordblock"` // Block at which the active token is recorded
	Mined       []apiTokenInfo `json:"mined"`       // All cached mined tokens, oldest first
}

func tokenToAPI(token *protocol.Token) *apiTokenInfo {
	hash := token.Hash()
	return &apiTokenInfo{SeedBlock: token.SeedBlockNumber, Nonce: token.Nonce, Hash: hex.EncodeToString(hash[:])}
}

/*
apiToken returns the active token and all mined tokens
Request:    GET /token
Result:     200 with JSON structure apiResponseToken
*/
func (api *WebapiInstance) apiToken(w http.ResponseWriter, r *http.Request) {
	response := apiResponseToken{Status: 1, Mined: []apiTokenInfo{}}

	if active := api.Backend.Tokens.ActiveToken(); active != nil {
		response.Status = 0
		response.Active = tokenToAPI(&active.Token)
		response.RecordBlock = active.BlockNumber
	}

	for _, pair := range api.Backend.Tokens.Tokens() {
		response.Mined = append(response.Mined, *tokenToAPI(pair.Token))
	}

	EncodeJSON(api.Backend, w, r, response)
}

type apiKeyStoreRequest struct {
	Key        string `json:"key"`        // Key text. The key is bound to the current seed.
	Data       []byte `json:"data"`       // Value data, base64 encoded
	Annotation string `json:"annotation"` // Optional annotation
}

type apiKeyStoreResponse struct {
	Status int `json:"status"` // 0 = Accepted by at least one node, 1 = Not accepted, 2 = Node stopped or timeout
}

/*
apiKeyStore stores a value in the DHT
Request:    POST /key/store with JSON structure apiKeyStoreRequest
Result:     200 with JSON structure apiKeyStoreResponse
*/
func (api *WebapiInstance) apiKeyStore(w http.ResponseWriter, r *http.Request) {
	var input apiKeyStoreRequest
	if err := DecodeJSON(w, r, &input); err != nil {
		return
	}

	key := api.Backend.NewKey(input.Key)
	accepted, err := api.Backend.Store(r.Context(), key, protocol.Value{Data: input.Data, Annotation: input.Annotation})

	response := apiKeyStoreResponse{Status: 1}
	if err != nil {
		response.Status = 2
	} else if accepted {
		response.Status = 0
	}

	EncodeJSON(api.Backend, w, r, response)
}

type apiValue struct {
	Data       []byte `json:"data"`       // Value data, base64 encoded
	Annotation string `json:"annotation"` // Annotation
}

type apiKeyGetResponse struct {
	Status int        `json:"status"` // 0 = Found, 1 = Not found, 2 = Node stopped or timeout
	Values []apiValue `json:"values"` // Values
}

/*
apiKeyGet searches the values of a key in the DHT
Request:    GET /key/get?key=[text]
Result:     200 with JSON structure apiKeyGetResponse
*/
func (api *WebapiInstance) apiKeyGet(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	key := api.Backend.NewKey(r.Form.Get("key"))

	response := apiKeyGetResponse{Status: 1, Values: []apiValue{}}

	values, found, err := api.Backend.Search(r.Context(), key)
	if err != nil {
		response.Status = 2
	} else if found {
		response.Status = 0
		for _, value := range values {
			response.Values = append(response.Values, apiValue{Data: value.Data, Annotation: value.Annotation})
		}
	}

	EncodeJSON(api.Backend, w, r, response)
}

/*
apiLookup returns the closest valid nodes to the target ID
Request:    GET /lookup?id=[hex node ID]
Result:     200 with JSON structure apiResponsePeers
            400 Invalid ID
*/
func (api *WebapiInstance) apiLookup(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	target, err := protocol.IDFromHex(r.Form.Get("id"))
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return
	}

	EncodeJSON(api.Backend, w, r, nodesToAPI(api.Backend.Lookup(r.Context(), target)))
}
