package broker

import (
	"fmt"

	"github.com/rs/zerolog"

	"mcp-core/pkg/brokers/binance"
	"mcp-core/pkg/brokers/common"
	"mcp-core/pkg/brokers/paper"
	"mcp-core/pkg/db"
)

// Broker types understood by DefaultFactory.
const (
	TypePaper   = "paper"
	TypeBinance = "binance"
)

// FactoryConfig carries venue settings shared by every connection.
type FactoryConfig struct {
	Binance binance.Config
	Paper   paper.Config
}

// DefaultFactory creates adapters based on broker type.
func DefaultFactory(cfg FactoryConfig, log zerolog.Logger) Factory {
	return func(conn db.BrokerConnection) (common.Adapter, error) {
		switch conn.BrokerType {
		case TypePaper:
			return paper.New(conn.BrokerID, cfg.Paper), nil
		case TypeBinance:
			return binance.New(conn.BrokerID, cfg.Binance, log.With().Str("broker_id", conn.BrokerID).Logger()), nil
		default:
			return nil, fmt.Errorf("unsupported broker type: %s", conn.BrokerType)
		}
	}
}
