// simpleaccount is a self-contained demo of the wallet protocol: it builds
// an in-memory world, binds an account to an entry point, signs one
// operation with a freshly generated owner key and submits it through
// HandleOps.
package main

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/urfave/cli/v2"

	"github.com/clydemeng/simpleaccount/core"
	"github.com/clydemeng/simpleaccount/core/state"
	"github.com/clydemeng/simpleaccount/core/types"
	"github.com/clydemeng/simpleaccount/core/vm"
)

var (
	chainIDFlag = &cli.Uint64Flag{
		Name:  "chainid",
		Usage: "chain id bound into operation hashes",
		Value: 56,
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "logging verbosity (0=crit .. 5=trace)",
		Value: 3,
	}
	balanceFlag = &cli.Uint64Flag{
		Name:  "balance",
		Usage: "initial native balance of the demo account (wei)",
		Value: 1_000_000,
	}
)

func main() {
	app := &cli.App{
		Name:   "simpleaccount",
		Usage:  "run one signed operation through the account-abstraction wallet core",
		Flags:  []cli.Flag{chainIDFlag, verbosityFlag, balanceFlag},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, log.FromLegacyLevel(ctx.Int(verbosityFlag.Name)), true)
	log.SetDefault(log.NewLogger(handler))

	chainID := ctx.Uint64(chainIDFlag.Name)

	ownerKey, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generating owner key: %w", err)
	}
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)

	var (
		entryPointAddr = common.HexToAddress("0x00000000000000000000000000000000000000e9")
		accountAddr    = crypto.CreateAddress(owner, 0)
		destAddr       = common.HexToAddress("0x00000000000000000000000000000000000d0000")
		beneficiary    = common.HexToAddress("0x0000000000000000000000000000000000000fee")
	)

	sdb := state.New()
	env := vm.NewEnv(chainID, sdb)

	entryPoint := core.NewEntryPoint(entryPointAddr, chainID)
	env.Register(entryPointAddr, entryPoint)

	account, err := core.NewSimpleAccount(accountAddr, entryPointAddr, owner)
	if err != nil {
		return err
	}
	env.Register(accountAddr, account)

	sdb.AddBalance(accountAddr, uint256.NewInt(ctx.Uint64(balanceFlag.Name)))
	log.Info("World initialised", "chainid", chainID, "owner", owner, "account", accountAddr, "entrypoint", entryPointAddr)

	// One operation: send 1000 wei from the account to destAddr.
	callData, err := core.PackExecute(destAddr, uint256.NewInt(1000), nil)
	if err != nil {
		return err
	}
	op := &types.Operation{
		Sender:       accountAddr,
		Nonce:        0,
		CallData:     callData,
		CallGasLimit: 100_000, VerificationGasLimit: 50_000, PreVerificationGas: 21_000,
		MaxFeePerGas: uint256.NewInt(1),
	}
	opHash := entryPoint.OperationHash(op)
	op.Signature, err = crypto.Sign(accounts.TextHash(opHash.Bytes()), ownerKey)
	if err != nil {
		return fmt.Errorf("signing operation: %w", err)
	}
	log.Info("Operation signed", "opHash", opHash)

	if err := entryPoint.HandleOps(env, []*types.Operation{op}, beneficiary); err != nil {
		return fmt.Errorf("handling operation: %w", err)
	}

	log.Info("Operation executed",
		"account", sdb.GetBalance(accountAddr),
		"dest", sdb.GetBalance(destAddr),
		"beneficiary", sdb.GetBalance(beneficiary))
	return nil
}
