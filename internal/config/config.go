package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"basewall.xyz/wallsign/chainlog"
	"basewall.xyz/wallsign/compliance"
	"basewall.xyz/wallsign/reconcile"
	"basewall.xyz/wallsign/storage/casconfig"
	"basewall.xyz/wallsign/wall"
)

type Config struct {
	Datadir  string
	HTTPPort uint32
	GRPCPort uint32
	LogLevel int

	RPCURL        string
	ChainID       uint64
	Contract      string
	DeployBlock   uint64
	BlockRange    uint64
	Confirmations uint64
	SyncInterval  time.Duration

	WallCapacity uint64
	WallOffset   uint64
	CanvasWidth  int
	CanvasHeight int
	Compliance   string

	EventDbType      string
	StoreBackends    []string
	StoreWritePolicy string
	RedisURL         string
	StoreGRPCTarget  string
}

func (c *Config) String() string {
	clone := *c
	clone.RedisURL = redactURL(clone.RedisURL)
	clone.RPCURL = redactURL(clone.RPCURL)
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

const (
	DefaultHTTPPort      = 8080
	DefaultRPCURL        = "https://mainnet.base.org"
	DefaultChainID       = 8453 // Base mainnet
	DefaultContract      = "0x4592A83E576E1031e9F53a321f6BD0ea28Bc0aF5"
	DefaultDeployBlock   = 40425685
	DefaultConfirmations = 12
	DefaultCanvasSide    = 1024
)

var (
	Datadir          = "DATADIR"
	HTTPPort         = "HTTP_PORT"
	GRPCPort         = "GRPC_PORT"
	LogLevel         = "LOG_LEVEL"
	RPCURL           = "RPC_URL"
	ChainID          = "CHAIN_ID"
	ContractAddress  = "CONTRACT_ADDRESS"
	DeployBlock      = "DEPLOY_BLOCK"
	BlockRange       = "BLOCK_RANGE"
	Confirmations    = "CONFIRMATIONS"
	SyncInterval     = "SYNC_INTERVAL"
	WallCapacity     = "WALL_CAPACITY"
	WallOffset       = "WALL_OFFSET"
	CanvasWidth      = "CANVAS_WIDTH"
	CanvasHeight     = "CANVAS_HEIGHT"
	Compliance       = "COMPLIANCE"
	EventDbType      = "EVENT_DB_TYPE"
	StoreBackends    = "STORE_BACKENDS"
	StoreWritePolicy = "STORE_WRITE_POLICY"
	RedisURL         = "REDIS_URL"
	StoreGRPCTarget  = "STORE_GRPC_TARGET"

	defaultDatadir          = appDataDir()
	defaultLogLevel         = 4
	defaultBlockRange       = chainlog.DefaultBlockRange
	defaultSyncInterval     = 30 * time.Second
	defaultWallCapacity     = wall.DefaultCapacity
	defaultCompliance       = "permissive"
	defaultEventDbType      = "badger"
	defaultStoreBackends    = casconfig.LocalFS
	defaultStoreWritePolicy = casconfig.WriteFirst
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("WALLSIGN")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(HTTPPort, DefaultHTTPPort)
	viper.SetDefault(GRPCPort, 0)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(RPCURL, DefaultRPCURL)
	viper.SetDefault(ChainID, DefaultChainID)
	viper.SetDefault(ContractAddress, DefaultContract)
	viper.SetDefault(DeployBlock, DefaultDeployBlock)
	viper.SetDefault(BlockRange, defaultBlockRange)
	viper.SetDefault(Confirmations, DefaultConfirmations)
	viper.SetDefault(SyncInterval, defaultSyncInterval)
	viper.SetDefault(WallCapacity, defaultWallCapacity)
	viper.SetDefault(WallOffset, 0)
	viper.SetDefault(CanvasWidth, DefaultCanvasSide)
	viper.SetDefault(CanvasHeight, DefaultCanvasSide)
	viper.SetDefault(Compliance, defaultCompliance)
	viper.SetDefault(EventDbType, defaultEventDbType)
	viper.SetDefault(StoreBackends, defaultStoreBackends)
	viper.SetDefault(StoreWritePolicy, defaultStoreWritePolicy)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	backends := casconfig.ParseBackends(viper.GetString(StoreBackends))
	redisURL := viper.GetString(RedisURL)
	for _, b := range backends {
		if b == casconfig.Redis && redisURL == "" {
			return nil, fmt.Errorf("missing redis url")
		}
	}

	return &Config{
		Datadir:  viper.GetString(Datadir),
		HTTPPort: viper.GetUint32(HTTPPort),
		GRPCPort: viper.GetUint32(GRPCPort),
		LogLevel: viper.GetInt(LogLevel),

		RPCURL:        viper.GetString(RPCURL),
		ChainID:       viper.GetUint64(ChainID),
		Contract:      viper.GetString(ContractAddress),
		DeployBlock:   viper.GetUint64(DeployBlock),
		BlockRange:    viper.GetUint64(BlockRange),
		Confirmations: viper.GetUint64(Confirmations),
		SyncInterval:  viper.GetDuration(SyncInterval),

		WallCapacity: viper.GetUint64(WallCapacity),
		WallOffset:   viper.GetUint64(WallOffset),
		CanvasWidth:  viper.GetInt(CanvasWidth),
		CanvasHeight: viper.GetInt(CanvasHeight),
		Compliance:   viper.GetString(Compliance),

		EventDbType:      viper.GetString(EventDbType),
		StoreBackends:    backends,
		StoreWritePolicy: viper.GetString(StoreWritePolicy),
		RedisURL:         redisURL,
		StoreGRPCTarget:  viper.GetString(StoreGRPCTarget),
	}, nil
}

func (c *Config) Validate() error {
	if !supportedEventDbs.supports(c.EventDbType) {
		return fmt.Errorf(
			"event db type not supported, please select one of: %s",
			supportedEventDbs,
		)
	}
	if _, err := compliance.ParseMode(c.Compliance); err != nil {
		return err
	}
	if err := c.Layout().Validate(); err != nil {
		return err
	}
	if c.CanvasWidth <= 0 || c.CanvasHeight <= 0 {
		return fmt.Errorf("invalid canvas size %dx%d", c.CanvasWidth, c.CanvasHeight)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	if c.BlockRange == 0 {
		return fmt.Errorf("block range must be positive")
	}
	if c.HTTPPort == 0 {
		return fmt.Errorf("missing http port")
	}
	if c.GRPCPort != 0 && c.GRPCPort == c.HTTPPort {
		return fmt.Errorf("grpc and http ports must differ")
	}
	if err := c.Chain().Validate(); err != nil {
		return err
	}
	return c.Store().Validate()
}

// Mode returns the parsed compliance mode. Call Validate first.
func (c *Config) Mode() compliance.ComplianceMode {
	m, _ := compliance.ParseMode(c.Compliance)
	return m
}

func (c *Config) Layout() wall.Layout {
	return wall.Layout{Capacity: c.WallCapacity, Offset: c.WallOffset}
}

func (c *Config) ReconcileOptions() reconcile.Options {
	return reconcile.Options{
		Width:  float64(c.CanvasWidth),
		Height: float64(c.CanvasHeight),
		Mode:   c.Mode(),
	}
}

func (c *Config) Chain() chainlog.Config {
	return chainlog.Config{
		RPCURL:        c.RPCURL,
		ChainID:       c.ChainID,
		Contract:      c.Contract,
		DeployBlock:   c.DeployBlock,
		BlockRange:    c.BlockRange,
		Confirmations: c.Confirmations,
	}
}

func (c *Config) Store() casconfig.Config {
	return casconfig.Config{
		Backends:    c.StoreBackends,
		WritePolicy: c.StoreWritePolicy,
		LocalDir:    filepath.Join(c.Datadir, "blobs"),
		RedisURL:    c.RedisURL,
		GRPCTarget:  c.StoreGRPCTarget,
	}
}

// EventDbDir is where the event log lives; empty for the in-memory store.
func (c *Config) EventDbDir() string {
	if c.EventDbType == "inmemory" {
		return ""
	}
	return filepath.Join(c.Datadir, "events")
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

func appDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".wallsign"
	}
	return filepath.Join(home, ".wallsign")
}

func redactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.User == nil {
		return s
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "••••••")
	}
	return u.String()
}

var supportedEventDbs = supportedType{
	"badger":   {},
	"inmemory": {},
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	sort.Strings(types)
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typ string) bool {
	_, ok := t[typ]
	return ok
}
