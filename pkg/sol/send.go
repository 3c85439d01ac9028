package sol

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

func (c *Client) SendTx(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	// Send transaction with optimized options
	sig, err := c.SendTransactionWithOpts(
		ctx, tx,
		rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: rpc.CommitmentProcessed,
		},
	)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// SendTxWithJito submits mainTx as a tipped Jito bundle instead of a plain
// sendTransaction call, returning the bundle ID for PollJitoBundle.
func (c *Client) SendTxWithJito(ctx context.Context, jitoTipLamports uint64, signers []solana.PrivateKey, mainTx *solana.Transaction) (string, error) {
	if c.jitoClient == nil {
		return "", fmt.Errorf("jito client not configured")
	}

	res, err := c.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("get latest blockhash: %w", err)
	}

	return c.jitoClient.SubmitBundle(ctx, signers[0], jitoTipLamports, res.Value.Blockhash, mainTx)
}

// PollJitoBundle blocks until bundleID lands, fails on-chain, or ctx is
// cancelled.
func (c *Client) PollJitoBundle(ctx context.Context, bundleID string) error {
	if c.jitoClient == nil {
		return fmt.Errorf("jito client not configured")
	}
	return c.jitoClient.PollBundleStatus(ctx, bundleID)
}
