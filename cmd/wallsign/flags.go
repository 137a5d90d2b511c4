package main

import (
	"github.com/urfave/cli/v2"

	"basewall.xyz/wallsign/chainlog"
	"basewall.xyz/wallsign/internal/config"
	"basewall.xyz/wallsign/wall"
)

const (
	inFlagName            = "in"
	outFlagName           = "out"
	widthFlagName         = "width"
	heightFlagName        = "height"
	hexFlagName           = "hex"
	strictFlagName        = "strict"
	formatFlagName        = "format"
	calldataFlagName      = "calldata"
	latestFlagName        = "latest"
	indexFlagName         = "index"
	capacityFlagName      = "capacity"
	offsetFlagName        = "offset"
	rpcFlagName           = "rpc"
	contractFlagName      = "contract"
	chainIDFlagName       = "chain-id"
	deployBlockFlagName   = "deploy-block"
	blockRangeFlagName    = "block-range"
	confirmationsFlagName = "confirmations"
)

var (
	inFlag = &cli.StringFlag{
		Name:    inFlagName,
		Aliases: []string{"i"},
		Usage:   "input file, - for stdin",
		Value:   "-",
	}
	outFlag = &cli.StringFlag{
		Name:     outFlagName,
		Aliases:  []string{"o"},
		Usage:    "output file",
		Required: true,
	}
	widthFlag = &cli.Float64Flag{
		Name:  widthFlagName,
		Usage: "canvas width",
		Value: config.DefaultCanvasSide,
	}
	heightFlag = &cli.Float64Flag{
		Name:  heightFlagName,
		Usage: "canvas height",
		Value: config.DefaultCanvasSide,
	}
	hexFlag = &cli.StringFlag{
		Name:  hexFlagName,
		Usage: "payload as hex, instead of reading --in",
	}
	strictFlag = &cli.BoolFlag{
		Name:  strictFlagName,
		Usage: "reject trailing bytes, off-grid points, ambiguous payloads and skipped records",
	}
	formatFlag = &cli.StringFlag{
		Name:  formatFlagName,
		Usage: "payload layout (v1 or v2); sniffed when empty",
	}
	calldataFlag = &cli.BoolFlag{
		Name:  calldataFlagName,
		Usage: "also print the calldata of sign(payload)",
	}
	latestFlag = &cli.Uint64Flag{
		Name:  latestFlagName,
		Usage: "highest minted token id",
	}
	indexFlag = &cli.Uint64Flag{
		Name:  indexFlagName,
		Usage: "wall index; the latest wall when unset",
	}
	capacityFlag = &cli.Uint64Flag{
		Name:  capacityFlagName,
		Usage: "signatures per wall",
		Value: wall.DefaultCapacity,
	}
	offsetFlag = &cli.Uint64Flag{
		Name:  offsetFlagName,
		Usage: "token ids at or below this belong to no wall",
	}
	rpcFlag = &cli.StringFlag{
		Name:    rpcFlagName,
		Usage:   "read events from this JSON-RPC endpoint instead of --in",
		EnvVars: []string{"WALLSIGN_RPC_URL"},
	}
	contractFlag = &cli.StringFlag{
		Name:  contractFlagName,
		Usage: "wall contract address",
		Value: config.DefaultContract,
	}
	chainIDFlag = &cli.Uint64Flag{
		Name:  chainIDFlagName,
		Usage: "expected chain id, 0 to skip the check",
		Value: config.DefaultChainID,
	}
	deployBlockFlag = &cli.Uint64Flag{
		Name:  deployBlockFlagName,
		Usage: "first block to scan",
		Value: config.DefaultDeployBlock,
	}
	blockRangeFlag = &cli.Uint64Flag{
		Name:  blockRangeFlagName,
		Usage: "blocks per eth_getLogs request",
		Value: chainlog.DefaultBlockRange,
	}
	confirmationsFlag = &cli.Uint64Flag{
		Name:  confirmationsFlagName,
		Usage: "blocks to wait before reading a log",
		Value: config.DefaultConfirmations,
	}

	canvasFlags = []cli.Flag{widthFlag, heightFlag}
	layoutFlags = []cli.Flag{capacityFlag, offsetFlag}
	chainFlags  = []cli.Flag{rpcFlag, contractFlag, chainIDFlag, deployBlockFlag, blockRangeFlag, confirmationsFlag}
)

func flags(groups ...[]cli.Flag) []cli.Flag {
	var out []cli.Flag
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}
