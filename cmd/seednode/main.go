/*
File Name:  main.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

Command line node of the seed DHT. It loads the config, connects to the network and serves the web API until interrupted.
*/

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	core "github.com/PeernetOfficial/seeddht"
	"github.com/PeernetOfficial/seeddht/webapi"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
)

const apiTimeout = 10 * time.Second

var (
	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "YAML config file. It is created with the defaults if it does not exist.",
		Value:   "Config.yaml",
	}
	apiListenFlag = &cli.StringSliceFlag{
		Name:  "api-listen",
		Usage: "Web API listen address IP:Port. Overrides the config.",
	}
	apiKeyFlag = &cli.StringFlag{
		Name:  "api-key",
		Usage: "Web API key (UUID). Overrides the config.",
	}
	noAPIFlag = &cli.BoolFlag{
		Name:  "no-api",
		Usage: "Disables the web API.",
	}
	listenFlag = &cli.StringFlag{
		Name:  "listen",
		Usage: "IP to listen on. Overrides the config.",
	}
	dataFlag = &cli.StringFlag{
		Name:  "data",
		Usage: "Directory of the ledger and the address book. Overrides the config.",
	}
	ledgerURLFlag = &cli.StringFlag{
		Name:  "ledger-url",
		Usage: "Web API of a node whose ledger is used instead of a local one.",
	}
	ledgerKeyFlag = &cli.StringFlag{
		Name:  "ledger-key",
		Usage: "API key of the remote ledger.",
	}
	seedFlag = &cli.StringSliceFlag{
		Name:  "seed",
		Usage: "Additional root peer in the form publickey@IP:Port.",
	}
)

func main() {
	app := &cli.App{
		Name:   "seednode",
		Usage:  "node of the seed DHT",
		Flags:  []cli.Flag{configFlag, apiListenFlag, apiKeyFlag, noAPIFlag, listenFlag, dataFlag, ledgerURLFlag, ledgerKeyFlag, seedFlag},
		Action: runNode,
		Commands: []*cli.Command{
			{
				Name:   "peerid",
				Usage:  "print the peer ID and node ID of the config",
				Flags:  []cli.Flag{configFlag},
				Action: printPeerID,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads the config and translates the status into an exit code
func loadConfig(ctx *cli.Context) (config *core.Config, err error) {
	config, status, err := core.LoadConfig(ctx.String(configFlag.Name))
	switch status {
	case 0:
		return nil, cli.Exit(fmt.Sprintf("Unknown error accessing config file: %v", err), core.ExitErrorConfigAccess)
	case 1:
		return nil, cli.Exit(fmt.Sprintf("Error reading config file: %v", err), core.ExitErrorConfigRead)
	case 2:
		return nil, cli.Exit(fmt.Sprintf("Error parsing config file: %v", err), core.ExitErrorConfigParse)
	}
	return config, nil
}

func runNode(ctx *cli.Context) error {
	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	modify := core.ModifyConfig{
		Listen:     ctx.String(listenFlag.Name),
		DataPath:   ctx.String(dataFlag.Name),
		LedgerURL:  ctx.String(ledgerURLFlag.Name),
		LedgerKey:  ctx.String(ledgerKeyFlag.Name),
		APIListen:  ctx.StringSlice(apiListenFlag.Name),
		APIKey:     ctx.String(apiKeyFlag.Name),
		DisableAPI: ctx.Bool(noAPIFlag.Name),
	}
	for _, seed := range ctx.StringSlice(seedFlag.Name) {
		publicKey, address, found := strings.Cut(seed, "@")
		if !found {
			return cli.Exit(fmt.Sprintf("Invalid seed '%s'", seed), core.ExitErrorConfigParse)
		}
		modify.SeedList = append(modify.SeedList, core.PeerSeed{PublicKey: publicKey, Address: []string{address}})
	}
	modify.ModifyConfig(config)

	apiKey := uuid.Nil
	if config.APIKey != "" {
		if apiKey, err = uuid.Parse(config.APIKey); err != nil {
			return cli.Exit(fmt.Sprintf("Invalid API key: %v", err), core.ExitParamApiKeyInvalid)
		}
	}

	backend, status, err := core.Init(config, ctx.String(configFlag.Name), nil)
	if status != core.ExitSuccess {
		return cli.Exit(fmt.Sprintf("Error initializing node: %v", err), status)
	}

	api := webapi.Start(backend, config.APIListen, apiTimeout, apiTimeout, apiKey)

	backend.Connect()

	nodeID := backend.SelfNodeID()
	fmt.Printf("Node %s started\n", hex.EncodeToString(nodeID[:]))

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	fmt.Println("Shutting down")

	if api != nil {
		api.Close()
	}
	backend.Stop()

	return nil
}

func printPeerID(ctx *cli.Context) error {
	config, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	backend, status, err := core.Init(config, ctx.String(configFlag.Name), nil)
	if status != core.ExitSuccess {
		return cli.Exit(fmt.Sprintf("Error initializing node: %v", err), status)
	}
	defer backend.Stop()

	_, publicKey := backend.ExportPrivateKey()
	nodeID := backend.SelfNodeID()

	fmt.Printf("Peer ID: %s\nNode ID: %s\n", hex.EncodeToString(publicKey.SerializeCompressed()), hex.EncodeToString(nodeID[:]))
	return nil
}
