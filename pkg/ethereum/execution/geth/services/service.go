package services

import (
	"context"
	"strings"
)

// Name identifies a node service.
type Name string

// Service is a background component owned by a node.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ready(ctx context.Context) error
	OnReady(ctx context.Context, cb func(context.Context) error)
	Name() Name
}

// Client is an execution client implementation.
type Client string

const (
	ClientUnknown    Client = "unknown"
	ClientGeth       Client = "geth"
	ClientNethermind Client = "nethermind"
	ClientBesu       Client = "besu"
	ClientErigon     Client = "erigon"
	ClientReth       Client = "reth"
)

var knownClients = []Client{ClientGeth, ClientNethermind, ClientBesu, ClientErigon, ClientReth}

// ClientFromString derives the client from a web3_clientVersion string such as
// "Geth/v1.16.3-stable/linux-amd64/go1.24.5".
func ClientFromString(version string) Client {
	lower := strings.ToLower(version)

	for _, c := range knownClients {
		if strings.HasPrefix(lower, string(c)) {
			return c
		}
	}

	return ClientUnknown
}
