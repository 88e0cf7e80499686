package chain

import (
	"context"
	"log/slog"

	"github.com/Fantasim/tappos/internal/config"
	"github.com/Fantasim/tappos/internal/metrics"
	"github.com/Fantasim/tappos/internal/models"
)

// Dial connects to every RPC URL of every chain and builds the Registry.
// Endpoints that fail to connect are logged and left out; a chain with no
// reachable endpoint stays registered and its calls fail with ErrNoProviders.
func Dial(ctx context.Context, chains []models.Chain, rec metrics.Recorder) *Registry {
	sets := make(map[uint32]*ProviderSet, len(chains))

	for _, c := range chains {
		var clients []Client
		for _, url := range c.RPCURLs {
			dialCtx, cancel := context.WithTimeout(ctx, config.DialTimeout)
			client, err := dialClient(dialCtx, c.Kind, url)
			cancel()
			if err != nil {
				slog.Warn("rpc endpoint unavailable",
					"chain", c.Name,
					"endpoint", url,
					"error", err,
				)
				continue
			}
			clients = append(clients, client)
		}

		if len(clients) == 0 {
			slog.Error("no reachable rpc endpoint for chain",
				"chain", c.Name,
				"configured", len(c.RPCURLs),
			)
		}

		rps := c.RateLimit
		if rps == 0 {
			rps = config.DefaultRPCRateLimit
		}
		sets[c.ID] = NewProviderSet(c.Name, clients, rps, rec)
	}

	slog.Info("chain registry ready", "chains", len(chains))
	return NewRegistry(chains, sets)
}

func dialClient(ctx context.Context, kind, url string) (Client, error) {
	if kind == config.ChainKindEVM {
		return DialEVM(ctx, url)
	}
	return DialSubstrate(ctx, url)
}
