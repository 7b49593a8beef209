package chainmaker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chainmaker.org/chainmaker/pb-go/v2/common"
	sdk "chainmaker.org/chainmaker/sdk-go/v2"

	"agritrace/blockchain/types"
	"agritrace/config"
	"agritrace/internal/logger"
)

// Source wraps the ChainMaker SDK client as a resumable ledger event source.
// Each Subscribe opens a contract-event subscription from the given block
// height, so reconnecting from a checkpoint replays anything delivered while
// the consumer was away instead of only tailing new events.
type Source struct {
	sdkClient sdk.ChainClient
	cfg       *config.BlockchainConfig
	logger    *logger.Logger
}

// NewChainMakerSource initializes the ChainMaker SDK client with the combined configuration
func NewChainMakerSource(cfg *config.BlockchainConfig, log *logger.Logger) (*Source, error) {
	log.Info("initializing ChainMaker SDK client")

	chainmakerCfg, ok := cfg.ChainSpecific.(*ChainMakerConfig)
	if !ok {
		return nil, fmt.Errorf("invalid ChainMaker configuration type")
	}

	var clientOptions []sdk.ChainClientOption
	clientOptions = append(clientOptions, sdk.WithChainClientOrgId(chainmakerCfg.OrgID))
	clientOptions = append(clientOptions, sdk.WithChainClientChainId(chainmakerCfg.ChainID))
	clientOptions = append(clientOptions, sdk.WithUserKeyFilePath(chainmakerCfg.UserKeyPath))
	clientOptions = append(clientOptions, sdk.WithUserCrtFilePath(chainmakerCfg.UserCertPath))
	clientOptions = append(clientOptions, sdk.WithUserSignKeyFilePath(chainmakerCfg.UserSignKeyPath))
	clientOptions = append(clientOptions, sdk.WithUserSignCrtFilePath(chainmakerCfg.UserSignCertPath))

	if len(chainmakerCfg.Nodes) == 0 {
		return nil, fmt.Errorf("no node configurations provided in config")
	}
	for _, nodeCfg := range chainmakerCfg.Nodes {
		if nodeCfg.UseTLS && len(nodeCfg.CaPaths) == 0 {
			return nil, fmt.Errorf("node %s has TLS enabled but no CaPaths provided", nodeCfg.Address)
		}
		sdkNodeConfig := sdk.NewNodeConfig(
			sdk.WithNodeAddr(nodeCfg.Address),
			sdk.WithNodeConnCnt(nodeCfg.ConnCount),
			sdk.WithNodeUseTLS(nodeCfg.UseTLS),
			sdk.WithNodeCAPaths(nodeCfg.CaPaths),
			sdk.WithNodeTLSHostName(nodeCfg.TLSHostName),
		)
		clientOptions = append(clientOptions, sdk.AddChainClientNodeConfig(sdkNodeConfig))
	}

	if cfg.RetryLimit > 0 {
		clientOptions = append(clientOptions, sdk.WithRetryLimit(cfg.RetryLimit))
	}
	if cfg.RetryInterval > 0 {
		clientOptions = append(clientOptions, sdk.WithRetryInterval(cfg.RetryInterval))
	}

	client, err := sdk.NewChainClient(clientOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to build ChainMaker SDK client: %w", err)
	}

	if err := client.EnableCertHash(); err != nil {
		log.Warn("failed to enable cert hash", "error", err)
	}

	log.Info("ChainMaker SDK client initialized",
		"chain_id", chainmakerCfg.ChainID, "contract", chainmakerCfg.ContractName)

	return &Source{
		sdkClient: *client,
		cfg:       cfg,
		logger:    log,
	}, nil
}

// Subscribe opens the contract event stream from the given sequence. The
// returned channel closes on disconnect or cancellation; the caller owns the
// resubscribe policy.
func (s *Source) Subscribe(ctx context.Context, fromSequence uint64) (<-chan *types.LedgerEvent, error) {
	chainmakerCfg := s.cfg.ChainSpecific.(*ChainMakerConfig)

	raw, err := s.sdkClient.SubscribeContractEvent(ctx,
		int64(fromSequence), -1, chainmakerCfg.ContractName, chainmakerCfg.EventTopic)
	if err != nil {
		return nil, fmt.Errorf("contract event subscription failed: %w", err)
	}

	s.logger.Info("subscribed to registry contract events",
		"contract", chainmakerCfg.ContractName, "from_sequence", fromSequence)

	out := make(chan *types.LedgerEvent, 64)
	go s.pump(ctx, raw, out)
	return out, nil
}

func (s *Source) pump(ctx context.Context, raw <-chan interface{}, out chan<- *types.LedgerEvent) {
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-raw:
			if !ok {
				s.logger.Warn("contract event subscription closed by peer")
				return
			}
			info, ok := ev.(*common.ContractEventInfo)
			if !ok {
				continue
			}
			decoded, err := decodeEvent(info)
			if err != nil {
				s.logger.Warn("skipping undecodable contract event",
					"tx_id", info.TxId, "topic", info.Topic, "error", err)
				continue
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
		}
	}
}

// decodeEvent translates one on-chain contract event into a LedgerEvent.
// The registry contract emits event data as [batchId, payloadJSON].
func decodeEvent(info *common.ContractEventInfo) (*types.LedgerEvent, error) {
	eventType, ok := types.EventTypeForTopic(info.Topic)
	if !ok {
		return nil, fmt.Errorf("unknown event topic '%s'", info.Topic)
	}
	if len(info.EventData) == 0 || info.EventData[0] == "" {
		return nil, fmt.Errorf("event data missing batch id")
	}

	payload := json.RawMessage(`{}`)
	if len(info.EventData) > 1 && info.EventData[1] != "" {
		if !json.Valid([]byte(info.EventData[1])) {
			return nil, fmt.Errorf("event payload is not valid JSON")
		}
		payload = json.RawMessage(info.EventData[1])
	}

	return &types.LedgerEvent{
		DeliveryID: types.DeriveDeliveryID(info.TxId, info.Topic, info.EventData),
		Sequence:   info.BlockHeight,
		BatchID:    info.EventData[0],
		Type:       eventType,
		Payload:    payload,
		TxID:       info.TxId,
		ObservedAt: time.Now().UTC(),
	}, nil
}

// Close stops the SDK client
func (s *Source) Close() error {
	s.logger.Info("closing ChainMaker SDK client")
	if err := s.sdkClient.Stop(); err != nil {
		return fmt.Errorf("failed to stop ChainMaker SDK client: %w", err)
	}
	return nil
}
