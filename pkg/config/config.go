// Package config builds the typed, per-command configuration structs
// (train/index/query/serve) that the rest of the module consumes, on top
// of the flat key=value map the external loader contract returns.
package config

import (
	"fmt"

	"github.com/vladindex/ivfadc/internal/paramconfig"
)

// TrainConfig configures the coarse-quantizer and PQ-codebook training run.
type TrainConfig struct {
	DataID     string // directory stem for on-disk artifacts
	Threads    int    // nt: worker thread count
	TrainDesc  string // train_desc: directory of training vectors
	Dim        int    // dim: D
	CoarseK    int    // coarsek: K_c
	NumSQ      int    // nsq: M
	NumSQBits  int    // nsqbits: B
	Iters      int    // iter: k-means iterations
	Attempts   int    // attempts: k-means attempts
	Seed       int64  // seed: PRNG seed threaded through k-means
}

// TrainConfigFromParams builds a TrainConfig from a parsed key=value map,
// applying the defaults documented for the train subcommand.
func TrainConfigFromParams(p paramconfig.Params) (TrainConfig, error) {
	dataID, err := p.GetString("dataId")
	if err != nil {
		return TrainConfig{}, err
	}
	trainDesc, err := p.GetString("train_desc")
	if err != nil {
		return TrainConfig{}, err
	}
	dim, err := p.GetInt("dim")
	if err != nil {
		return TrainConfig{}, err
	}
	coarseK, err := p.GetInt("coarsek")
	if err != nil {
		return TrainConfig{}, err
	}
	nsq, err := p.GetInt("nsq")
	if err != nil {
		return TrainConfig{}, err
	}

	cfg := TrainConfig{
		DataID:    dataID,
		Threads:   p.GetIntDefault("nt", 1),
		TrainDesc: trainDesc,
		Dim:       dim,
		CoarseK:   coarseK,
		NumSQ:     nsq,
		NumSQBits: p.GetIntDefault("nsqbits", 8),
		Iters:     p.GetIntDefault("iter", 25),
		Attempts:  p.GetIntDefault("attempts", 1),
		Seed:      int64(p.GetIntDefault("seed", 1)),
	}
	return cfg, cfg.Validate()
}

// Validate checks that a TrainConfig is internally consistent.
func (c TrainConfig) Validate() error {
	if c.Dim < 1 {
		return fmt.Errorf("config: dim must be > 0, got %d", c.Dim)
	}
	if c.CoarseK < 1 {
		return fmt.Errorf("config: coarsek must be > 0, got %d", c.CoarseK)
	}
	if c.NumSQ < 1 || c.Dim%c.NumSQ != 0 {
		return fmt.Errorf("config: nsq must divide dim evenly, got nsq=%d dim=%d", c.NumSQ, c.Dim)
	}
	if c.NumSQBits < 1 || c.NumSQBits > 31 {
		return fmt.Errorf("config: nsqbits must be in [1, 31], got %d", c.NumSQBits)
	}
	if c.Iters < 1 {
		return fmt.Errorf("config: iter must be > 0, got %d", c.Iters)
	}
	if c.Attempts < 1 {
		return fmt.Errorf("config: attempts must be > 0, got %d", c.Attempts)
	}
	if c.Threads < 1 {
		return fmt.Errorf("config: nt must be > 0, got %d", c.Threads)
	}
	return nil
}

// IndexConfig configures a two-pass indexing run over a reference set.
type IndexConfig struct {
	DataID    string // dataId
	Threads   int    // nt
	IndexDesc string // index_desc: directory of reference vectors
	Dim       int    // dim
}

// IndexConfigFromParams builds an IndexConfig from a parsed key=value map.
func IndexConfigFromParams(p paramconfig.Params) (IndexConfig, error) {
	dataID, err := p.GetString("dataId")
	if err != nil {
		return IndexConfig{}, err
	}
	indexDesc, err := p.GetString("index_desc")
	if err != nil {
		return IndexConfig{}, err
	}
	dim, err := p.GetInt("dim")
	if err != nil {
		return IndexConfig{}, err
	}

	cfg := IndexConfig{
		DataID:    dataID,
		Threads:   p.GetIntDefault("nt", 1),
		IndexDesc: indexDesc,
		Dim:       dim,
	}
	return cfg, cfg.Validate()
}

// Validate checks that an IndexConfig is internally consistent.
func (c IndexConfig) Validate() error {
	if c.Dim < 1 {
		return fmt.Errorf("config: dim must be > 0, got %d", c.Dim)
	}
	if c.Threads < 1 {
		return fmt.Errorf("config: nt must be > 0, got %d", c.Threads)
	}
	return nil
}

// QueryConfig configures a batch query run against a loaded index.
type QueryConfig struct {
	DataID    string // dataId
	Threads   int    // nt
	QueryDesc string // query_desc: directory of query vectors
	Dim       int    // dim
	NumRet    int    // num_ret: top-k returned per query
	Ma        int    // ma: cell probes per query (w)
}

// QueryConfigFromParams builds a QueryConfig from a parsed key=value map.
func QueryConfigFromParams(p paramconfig.Params) (QueryConfig, error) {
	dataID, err := p.GetString("dataId")
	if err != nil {
		return QueryConfig{}, err
	}
	queryDesc, err := p.GetString("query_desc")
	if err != nil {
		return QueryConfig{}, err
	}
	dim, err := p.GetInt("dim")
	if err != nil {
		return QueryConfig{}, err
	}

	cfg := QueryConfig{
		DataID:    dataID,
		Threads:   p.GetIntDefault("nt", 1),
		QueryDesc: queryDesc,
		Dim:       dim,
		NumRet:    p.GetIntDefault("num_ret", 10),
		Ma:        p.GetIntDefault("ma", 1),
	}
	return cfg, cfg.Validate()
}

// Validate checks that a QueryConfig is internally consistent.
func (c QueryConfig) Validate() error {
	if c.Dim < 1 {
		return fmt.Errorf("config: dim must be > 0, got %d", c.Dim)
	}
	if c.NumRet < 1 {
		return fmt.Errorf("config: num_ret must be > 0, got %d", c.NumRet)
	}
	if c.Ma < 1 {
		return fmt.Errorf("config: ma must be > 0, got %d", c.Ma)
	}
	if c.Threads < 1 {
		return fmt.Errorf("config: nt must be > 0, got %d", c.Threads)
	}
	return nil
}

// ServeConfig configures the long-lived query-serving HTTP mode.
type ServeConfig struct {
	DataID      string  // dataId
	Dim         int     // dim
	ServeAddr   string  // serve_addr: host:port
	RatePerSec  float64 // rate_per_sec
	RateBurst   int     // rate_burst
}

// ServeConfigFromParams builds a ServeConfig from a parsed key=value map.
func ServeConfigFromParams(p paramconfig.Params) (ServeConfig, error) {
	dataID, err := p.GetString("dataId")
	if err != nil {
		return ServeConfig{}, err
	}
	dim, err := p.GetInt("dim")
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		DataID:     dataID,
		Dim:        dim,
		ServeAddr:  p.GetStringDefault("serve_addr", "127.0.0.1:8080"),
		RatePerSec: p.GetFloatDefault("rate_per_sec", 50),
		RateBurst:  p.GetIntDefault("rate_burst", 100),
	}
	return cfg, cfg.Validate()
}

// Validate checks that a ServeConfig is internally consistent.
func (c ServeConfig) Validate() error {
	if c.Dim < 1 {
		return fmt.Errorf("config: dim must be > 0, got %d", c.Dim)
	}
	if c.ServeAddr == "" {
		return fmt.Errorf("config: serve_addr must not be empty")
	}
	if c.RatePerSec <= 0 {
		return fmt.Errorf("config: rate_per_sec must be > 0, got %f", c.RatePerSec)
	}
	if c.RateBurst < 1 {
		return fmt.Errorf("config: rate_burst must be > 0, got %d", c.RateBurst)
	}
	return nil
}
