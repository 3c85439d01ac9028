package sol

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	jitorpc "github.com/jito-labs/jito-go-rpc"
	"go.uber.org/zap"
)

// JitoClient submits transactions as Jito bundles: a tip transfer plus the
// harvest transaction itself, landed together or not at all.
//
// Jito endpoint reference: https://docs.jito.wtf/lowlatencytxnsend/
type JitoClient struct {
	log        *zap.Logger
	rpcClient  *jitorpc.JitoJsonRpcClient
	tipAccount solana.PublicKey
}

func NewJitoClient(ctx context.Context, endpoint string) (*JitoClient, error) {
	rpcClient := jitorpc.NewJitoJsonRpcClient(endpoint, "")
	tipAccount, err := rpcClient.GetRandomTipAccount()
	if err != nil {
		return nil, fmt.Errorf("get random tip account: %w", err)
	}
	tipAccountPublicKey, err := solana.PublicKeyFromBase58(tipAccount.Address)
	if err != nil {
		return nil, fmt.Errorf("parse tip account: %w", err)
	}
	return &JitoClient{log: zap.NewNop(), rpcClient: rpcClient, tipAccount: tipAccountPublicKey}, nil
}

func createTipTransaction(payer solana.PrivateKey, amount uint64, recentBlockhash solana.Hash, tipAddress string) (*solana.Transaction, error) {
	tipAccount, err := solana.PublicKeyFromBase58(tipAddress)
	if err != nil {
		return nil, fmt.Errorf("parse tip account: %w", err)
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(amount, payer.PublicKey(), tipAccount).Build(),
		},
		recentBlockhash,
		solana.TransactionPayer(payer.PublicKey()),
	)
	if err != nil {
		return nil, fmt.Errorf("build tip transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if payer.PublicKey().Equals(key) {
			return &payer
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign tip transaction: %w", err)
	}
	return tx, nil
}

func encodeTransaction(tx *solana.Transaction) (string, error) {
	serialized, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("serialize transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(serialized), nil
}

// SubmitBundle wraps mainTx with a tip transfer to a random Jito tip account
// and submits both as one bundle, returning the bundle ID for status
// polling.
func (c *JitoClient) SubmitBundle(ctx context.Context, tipPayer solana.PrivateKey, tipLamports uint64, recentBlockhash solana.Hash, mainTx *solana.Transaction) (string, error) {
	tipTx, err := createTipTransaction(tipPayer, tipLamports, recentBlockhash, c.tipAccount.String())
	if err != nil {
		return "", err
	}
	tipEncoded, err := encodeTransaction(tipTx)
	if err != nil {
		return "", err
	}
	mainEncoded, err := encodeTransaction(mainTx)
	if err != nil {
		return "", err
	}

	raw, err := c.rpcClient.SendBundle([][]string{{mainEncoded, tipEncoded}})
	if err != nil {
		return "", fmt.Errorf("send bundle: %w", err)
	}
	var bundleID string
	if err := json.Unmarshal(raw, &bundleID); err != nil {
		return "", fmt.Errorf("unmarshal bundle id: %w", err)
	}
	c.log.Debug("submitted jito bundle", zap.String("bundle_id", bundleID), zap.Uint64("tip_lamports", tipLamports))
	return bundleID, nil
}

// PollBundleStatus polls GetBundleStatuses until the bundle lands
// (returning nil), fails on-chain (returning a descriptive error), or ctx
// is cancelled -- whichever comes first.
func (c *JitoClient) PollBundleStatus(ctx context.Context, bundleID string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		resp, err := c.rpcClient.GetBundleStatuses([]string{bundleID})
		if err != nil {
			c.log.Debug("bundle status poll failed, retrying", zap.Error(err))
			continue
		}
		if len(resp.Value) == 0 {
			continue
		}
		status := resp.Value[0]
		switch status.ConfirmationStatus {
		case "confirmed", "finalized":
			if status.Err.Ok != nil {
				return fmt.Errorf("bundle %s failed on-chain: %v", bundleID, status.Err.Ok)
			}
			return nil
		}
	}
}
