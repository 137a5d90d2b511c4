package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"basewall.xyz/wallsign/cidutil"
	"basewall.xyz/wallsign/storage"
	"basewall.xyz/wallsign/storage/bundle"
	"basewall.xyz/wallsign/storage/casconfig"
)

const (
	storeFlagName       = "store"
	storeDirFlagName    = "store-dir"
	writePolicyFlagName = "write-policy"
	redisURLFlagName    = "redis-url"
	grpcTargetFlagName  = "grpc-target"
	cidFlagName         = "cid"
)

var (
	storeFlag = &cli.StringFlag{
		Name:    storeFlagName,
		Usage:   "comma separated blob backends in read order (localfs, inmemory, redis, grpc)",
		Value:   casconfig.LocalFS,
		EnvVars: []string{"WALLSIGN_STORE_BACKENDS"},
	}
	storeDirFlag = &cli.StringFlag{
		Name:  storeDirFlagName,
		Usage: "localfs blob directory",
		Value: filepath.Join(appDataDir(), "blobs"),
	}
	writePolicyFlag = &cli.StringFlag{
		Name:  writePolicyFlagName,
		Usage: "first or all",
		Value: casconfig.WriteFirst,
	}
	redisURLFlag = &cli.StringFlag{
		Name:    redisURLFlagName,
		Usage:   "redis url for the redis backend",
		EnvVars: []string{"WALLSIGN_REDIS_URL"},
	}
	grpcTargetFlag = &cli.StringFlag{
		Name:    grpcTargetFlagName,
		Usage:   "host:port of a wallsignd blob server",
		EnvVars: []string{"WALLSIGN_STORE_GRPC_TARGET"},
	}
	cidFlag = &cli.StringFlag{
		Name:     cidFlagName,
		Usage:    "blob content identifier",
		Required: true,
	}

	storeFlags = []cli.Flag{storeFlag, storeDirFlag, writePolicyFlag, redisURLFlag, grpcTargetFlag}
)

var blobsCmd = &cli.Command{
	Name:  "blobs",
	Usage: "Read and write the content addressed blob store",
	Subcommands: []*cli.Command{
		{
			Name:      "put",
			Usage:     "Store a file and print its CID",
			ArgsUsage: "<file>",
			Action:    blobPutAction,
			Flags:     storeFlags,
		},
		{
			Name:   "get",
			Usage:  "Print a blob, or write it to --out",
			Action: blobGetAction,
			Flags:  flags([]cli.Flag{cidFlag, &cli.StringFlag{Name: outFlagName, Aliases: []string{"o"}, Usage: "output file"}}, storeFlags),
		},
		{
			Name:   "has",
			Usage:  "Report whether a blob is present",
			Action: blobHasAction,
			Flags:  flags([]cli.Flag{cidFlag}, storeFlags),
		},
		{
			Name:   "import",
			Usage:  "Load a wall bundle (.tar) into the store and print its manifest",
			Action: blobImportAction,
			Flags:  flags([]cli.Flag{inFlag}, storeFlags),
		},
	},
}

func openStore(c *cli.Context) (storage.CAS, func() error, error) {
	cfg := casconfig.Config{
		Backends:    casconfig.ParseBackends(c.String(storeFlagName)),
		WritePolicy: c.String(writePolicyFlagName),
		LocalDir:    c.String(storeDirFlagName),
		RedisURL:    c.String(redisURLFlagName),
		GRPCTarget:  c.String(grpcTargetFlagName),
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, usageError{err}
	}
	return cfg.Open()
}

func blobPutAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return usageError{fmt.Errorf("usage: wallsign blobs put [flags] <file>")}
	}
	b, err := os.ReadFile(c.Args().First())
	if err != nil {
		return err
	}
	cas, closeFn, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeFn()

	id, err := cas.Put(c.Context, b)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, id.String())
	return nil
}

func blobGetAction(c *cli.Context) error {
	id, err := cidutil.Parse(c.String(cidFlagName))
	if err != nil {
		return usageError{err}
	}
	cas, closeFn, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeFn()

	b, err := cas.Get(c.Context, id)
	if err != nil {
		return err
	}
	if out := c.String(outFlagName); out != "" {
		return os.WriteFile(out, b, 0o600)
	}
	_, err = c.App.Writer.Write(b)
	return err
}

func blobHasAction(c *cli.Context) error {
	id, err := cidutil.Parse(c.String(cidFlagName))
	if err != nil {
		return usageError{err}
	}
	cas, closeFn, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeFn()

	ok, err := cas.Has(c.Context, id)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, ok)
	return nil
}

func blobImportAction(c *cli.Context) error {
	cas, closeFn, err := openStore(c)
	if err != nil {
		return err
	}
	defer closeFn()

	var manifest []byte
	path := c.String(inFlagName)
	if path == "" || path == "-" {
		manifest, err = bundle.Import(c.Context, c.App.Reader, cas)
	} else {
		f, ferr := os.Open(path)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		manifest, err = bundle.Import(c.Context, f, cas)
	}
	if err != nil {
		return err
	}
	if len(manifest) > 0 {
		_, err = c.App.Writer.Write(manifest)
	}
	return err
}

func appDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wallsign"
	}
	return filepath.Join(home, ".wallsign")
}
