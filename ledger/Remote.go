/*
File Name:  Remote.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Remote is an Oracle that queries the ledger of another node via its web API. It allows multiple nodes to share one ledger.
Block headers are immutable and cached.
*/

package ledger

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/PeernetOfficial/seeddht/protocol"
	lru "github.com/hashicorp/golang-lru"
)

// APIBlockNumber is the JSON response for the latest block and token lookups
type APIBlockNumber struct {
	Number int64 `json:"number"` // Block number. -1 if not available.
}

// APIHeader is the JSON representation of a block header
type APIHeader struct {
	Number       int64     `json:"number"`
	Hash         string    `json:"hash"`     // Hex encoded
	PreviousHash string    `json:"previous"` // Hex encoded
	Timestamp    time.Time `json:"timestamp"`
	TokenCount   int       `json:"tokens"`
}

// APIToken is the JSON request to submit a token
type APIToken struct {
	Token string `json:"token"` // Hex encoded token
}

// HeaderToAPI translates the header into its JSON form
func HeaderToAPI(header *Header) APIHeader {
	return APIHeader{
		Number:       header.Number,
		Hash:         hex.EncodeToString(header.Hash),
		PreviousHash: hex.EncodeToString(header.PreviousHash),
		Timestamp:    header.Timestamp,
		TokenCount:   header.TokenCount,
	}
}

// Remote implements Oracle over HTTP.
type Remote struct {
	baseURL string
	apiKey  string
	client  *http.Client
	headers *lru.Cache

	// LogError is called for failed requests.
	LogError func(function, format string, v ...interface{})
}

// NewRemote creates a remote oracle. The API key is optional.
func NewRemote(baseURL, apiKey string, timeout time.Duration) (remote *Remote, err error) {
	headers, err := lru.New(1024)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	return &Remote{
		baseURL:  baseURL,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
		headers:  headers,
		LogError: func(function, format string, v ...interface{}) {},
	}, nil
}

func (remote *Remote) request(method, path string, query url.Values, body interface{}, result interface{}) (found bool, err error) {
	target := remote.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return false, Error.Wrap(err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	request, err := http.NewRequest(method, target, reader)
	if err != nil {
		return false, Error.Wrap(err)
	}
	if remote.apiKey != "" {
		request.Header.Set("x-api-key", remote.apiKey)
	}

	response, err := remote.client.Do(request)
	if err != nil {
		return false, Error.Wrap(err)
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusNotFound:
		return false, nil
	case response.StatusCode != http.StatusOK:
		return false, Error.New("%s %s: status %d", method, path, response.StatusCode)
	case result == nil:
		return true, nil
	}

	if err = json.NewDecoder(response.Body).Decode(result); err != nil {
		return false, Error.Wrap(err)
	}
	return true, nil
}

// LatestBlockNumber returns the number of the most recent block. -1 if unavailable.
func (remote *Remote) LatestBlockNumber() int64 {
	var result APIBlockNumber
	if _, err := remote.request(http.MethodGet, "/ledger/latest", nil, nil, &result); err != nil {
		remote.LogError("Remote.LatestBlockNumber", "%v\n", err)
		return -1
	}
	return result.Number
}

// BlockHashAt returns the hash of the block. Nil if the block does not exist.
func (remote *Remote) BlockHashAt(number int64) []byte {
	header, found := remote.BlockHeaderAt(number)
	if !found {
		return nil
	}
	return header.Hash
}

// BlockHeaderAt returns the header of the block if it exists.
func (remote *Remote) BlockHeaderAt(number int64) (header *Header, found bool) {
	if cached, ok := remote.headers.Get(number); ok {
		return cached.(*Header), true
	}

	var result APIHeader
	found, err := remote.request(http.MethodGet, "/ledger/block", url.Values{"number": {strconv.FormatInt(number, 10)}}, nil, &result)
	if err != nil {
		remote.LogError("Remote.BlockHeaderAt", "block %d: %v\n", number, err)
		return nil, false
	} else if !found {
		return nil, false
	}

	header = &Header{Number: result.Number, Timestamp: result.Timestamp, TokenCount: result.TokenCount}
	if header.Hash, err = hex.DecodeString(result.Hash); err != nil {
		return nil, false
	}
	if header.PreviousHash, err = hex.DecodeString(result.PreviousHash); err != nil {
		return nil, false
	}

	remote.headers.Add(number, header)
	return header, true
}

// IsTransactionRecordedAt checks if the token is recorded in the given block.
func (remote *Remote) IsTransactionRecordedAt(number int64, token *protocol.Token) bool {
	recorded := remote.LastRecordedBlockOf(token)
	return recorded >= 0 && recorded == number
}

// LastRecordedBlockOf returns the block number at which the token is recorded. -1 if not recorded.
func (remote *Remote) LastRecordedBlockOf(token *protocol.Token) int64 {
	if token == nil || token.PublicKey == nil {
		return -1
	}

	var result APIBlockNumber
	found, err := remote.request(http.MethodGet, "/ledger/token", url.Values{"token": {hex.EncodeToString(token.Encode())}}, nil, &result)
	if err != nil {
		remote.LogError("Remote.LastRecordedBlockOf", "%v\n", err)
		return -1
	} else if !found {
		return -1
	}
	return result.Number
}

// Submit sends the token to the remote ledger.
func (remote *Remote) Submit(token *protocol.Token) error {
	if token == nil || token.PublicKey == nil {
		return Error.New("submit: invalid token")
	}

	_, err := remote.request(http.MethodPost, "/ledger/submit", nil, APIToken{Token: hex.EncodeToString(token.Encode())}, nil)
	return err
}
