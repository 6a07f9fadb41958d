package client

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/obsidianlabs/rpc-proxy/internal/config"
)

const clientDialTimeout = 10 * time.Second

// EthClient is the minimal RPC surface the recovery scanner needs to probe
// an endpoint: eth_blockNumber.
type EthClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

type EthClientGetter func(url string, credentials *config.BasicAuthConfig) (EthClient, error)

func NewEthClient(url string, credentials *config.BasicAuthConfig) (EthClient, error) {
	ctx, cancel := context.WithTimeout(context.Background(), clientDialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}

	if credentials != nil && (credentials.Username != "" || credentials.Password != "") {
		encodedCredentials := base64.StdEncoding.EncodeToString([]byte(credentials.Username + ":" + credentials.Password))
		rpcClient.SetHeader("Authorization", "Basic "+encodedCredentials)
	}

	return ethclient.NewClient(rpcClient), nil
}
