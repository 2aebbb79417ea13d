/*
File Name:  API.go
Copyright:  2021 Peernet Foundation s.r.o.
Author:     Peter Kleissner
*/

package webapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	core "github.com/PeernetOfficial/seeddht"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// WebapiInstance is a running instance of the API
type WebapiInstance struct {
	Backend *core.Backend

	// Router can be used to register additional API functions
	Router *mux.Router

	servers []*http.Server
}

// WSUpgrader is used for websocket functionality. It allows all requests.
var WSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// allow all connections by default
		return true
	},
}

// New creates the API with all routes registered. The API key may be uuid.Nil to disable it although this is not recommended for security reasons.
func New(Backend *core.Backend, APIKey uuid.UUID) (api *WebapiInstance) {
	api = &WebapiInstance{
		Backend: Backend,
		Router:  mux.NewRouter(),
	}

	if APIKey != uuid.Nil {
		api.Router.Use(api.authenticateMiddleware(APIKey))
	}

	api.Router.HandleFunc("/test", apiTest).Methods("GET")
	api.Router.HandleFunc("/status", api.apiStatus).Methods("GET")
	api.Router.HandleFunc("/status/peers", api.apiStatusPeers).Methods("GET")
	api.Router.HandleFunc("/status/ws", api.apiStatusStream).Methods("GET")
	api.Router.HandleFunc("/token", api.apiToken).Methods("GET")
	api.Router.HandleFunc("/key/store", api.apiKeyStore).Methods("POST")
	api.Router.HandleFunc("/key/get", api.apiKeyGet).Methods("GET")
	api.Router.HandleFunc("/lookup", api.apiLookup).Methods("GET")
	api.Router.HandleFunc("/ledger/latest", api.apiLedgerLatest).Methods("GET")
	api.Router.HandleFunc("/ledger/block", api.apiLedgerBlock).Methods("GET")
	api.Router.HandleFunc("/ledger/token", api.apiLedgerToken).Methods("GET")
	api.Router.HandleFunc("/ledger/submit", api.apiLedgerSubmit).Methods("POST")

	return api
}

// Start starts the API. ListenAddresses is a list of IP:Ports. The read and write timeout may be 0 for no timeout.
func Start(Backend *core.Backend, ListenAddresses []string, TimeoutRead, TimeoutWrite time.Duration, APIKey uuid.UUID) (api *WebapiInstance) {
	if len(ListenAddresses) == 0 {
		return nil
	}

	api = New(Backend, APIKey)

	for _, listen := range ListenAddresses {
		server := &http.Server{
			Addr:         listen,
			Handler:      api.Router,
			ReadTimeout:  TimeoutRead,  // ReadTimeout is the maximum duration for reading the entire request, including the body.
			WriteTimeout: TimeoutWrite, // WriteTimeout is the maximum duration before timing out writes of the response.
		}
		api.servers = append(api.servers, server)

		go api.startWebAPI(server)
	}

	return api
}

// startWebAPI starts a web-server and logs the status. It blocks until the server is closed.
func (api *WebapiInstance) startWebAPI(server *http.Server) {
	api.Backend.LogError("startWebAPI", "Start API at '%s'", server.Addr)

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		api.Backend.LogError("startWebAPI", "Error listening on '%s': %v", server.Addr, err)
	}
}

// Close shuts down all web-servers
func (api *WebapiInstance) Close() {
	for _, server := range api.servers {
		server.Close()
	}
}

// EncodeJSON encodes the data as JSON
func EncodeJSON(Backend *core.Backend, w http.ResponseWriter, r *http.Request, data interface{}) (err error) {
	w.Header().Set("Content-Type", "application/json")

	err = json.NewEncoder(w).Encode(data)
	if err != nil {
		Backend.LogError("EncodeJSON", "Error writing data for route '%s': %v", r.URL.Path, err)
	}

	return err
}

// DecodeJSON decodes input JSON data server side sent either via GET or POST. It does not limit the maximum amount to read.
// In case of error it will automatically send an error to the client.
func DecodeJSON(w http.ResponseWriter, r *http.Request, data interface{}) (err error) {
	if r.Body == nil {
		http.Error(w, "", http.StatusBadRequest)
		return errors.New("no data")
	}

	err = json.NewDecoder(r.Body).Decode(data)
	if err != nil {
		http.Error(w, "", http.StatusBadRequest)
		return err
	}

	return nil
}

// authenticateMiddleware returns a middleware function to be used with mux.Router.Use(). It handles all authentication functionality.
func (api *WebapiInstance) authenticateMiddleware(APIKey uuid.UUID) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID, err := uuid.Parse(r.Header.Get("x-api-key"))
			if err != nil || keyID != APIKey {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
