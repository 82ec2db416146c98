package conf

import (
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/pelletier/go-toml"
	"gopkg.in/ini.v1"
)

/*
*
存储引擎配置，格式沿用my.ini风格：

[storage]
data_dir        = data
page_file       = xstorage.ibd
log_level       = info
log_path        =

[buffer_pool]
pool_pages      = 1024
replacer_k      = 2
flush_interval  = 1s

[btree]
leaf_max_size     = 255
internal_max_size = 255
key_size          = 8
*/
type Cfg struct {
	Raw *ini.File

	// storage
	DataDir  string `default:"data" yaml:"data_dir" json:"data_dir,omitempty"`
	PageFile string `default:"xstorage.ibd" yaml:"page_file" json:"page_file,omitempty"`
	LogLevel string `default:"info" yaml:"log_level" json:"log_level,omitempty"`
	LogPath  string `default:"" yaml:"log_path" json:"log_path,omitempty"`

	// buffer pool
	PoolPages             int    `default:"1024" yaml:"pool_pages" json:"pool_pages,omitempty"`
	ReplacerK             int    `default:"2" yaml:"replacer_k" json:"replacer_k,omitempty"`
	FlushInterval         string `default:"1s" yaml:"flush_interval" json:"flush_interval,omitempty"`
	FlushIntervalDuration time.Duration

	// btree
	LeafMaxSize     int `default:"255" yaml:"leaf_max_size" json:"leaf_max_size,omitempty"`
	InternalMaxSize int `default:"255" yaml:"internal_max_size" json:"internal_max_size,omitempty"`
	KeySize         int `default:"8" yaml:"key_size" json:"key_size,omitempty"`
}

// NewCfg 返回带默认值的配置
func NewCfg() *Cfg {
	return &Cfg{
		Raw:             ini.Empty(),
		DataDir:         "data",
		PageFile:        "xstorage.ibd",
		LogLevel:        "info",
		PoolPages:       1024,
		ReplacerK:       2,
		FlushInterval:   "1s",
		LeafMaxSize:     255,
		InternalMaxSize: 255,
		KeySize:         8,
	}
}

// Load 从my.ini风格的配置文件加载
func (cfg *Cfg) Load(configFile string) error {
	if _, err := os.Stat(configFile); err != nil {
		return errors.NotFoundf("config file %s", configFile)
	}
	raw, err := ini.Load(configFile)
	if err != nil {
		return errors.Annotatef(err, "failed to parse %s", configFile)
	}
	cfg.Raw = raw

	storage := raw.Section("storage")
	cfg.DataDir = storage.Key("data_dir").MustString(cfg.DataDir)
	cfg.PageFile = storage.Key("page_file").MustString(cfg.PageFile)
	cfg.LogLevel = storage.Key("log_level").MustString(cfg.LogLevel)
	cfg.LogPath = storage.Key("log_path").MustString(cfg.LogPath)

	pool := raw.Section("buffer_pool")
	cfg.PoolPages = pool.Key("pool_pages").MustInt(cfg.PoolPages)
	cfg.ReplacerK = pool.Key("replacer_k").MustInt(cfg.ReplacerK)
	cfg.FlushInterval = pool.Key("flush_interval").MustString(cfg.FlushInterval)

	btree := raw.Section("btree")
	cfg.LeafMaxSize = btree.Key("leaf_max_size").MustInt(cfg.LeafMaxSize)
	cfg.InternalMaxSize = btree.Key("internal_max_size").MustInt(cfg.InternalMaxSize)
	cfg.KeySize = btree.Key("key_size").MustInt(cfg.KeySize)

	return cfg.normalize()
}

// LoadTomlOverrides 从可选的toml调优文件覆盖数值参数
//
// [buffer_pool]
// pool_pages = 2048
// replacer_k = 3
func (cfg *Cfg) LoadTomlOverrides(tomlFile string) error {
	if _, err := os.Stat(tomlFile); err != nil {
		// 调优文件是可选的
		return nil
	}
	tree, err := toml.LoadFile(tomlFile)
	if err != nil {
		return errors.Annotatef(err, "failed to parse %s", tomlFile)
	}

	if v, ok := tree.Get("buffer_pool.pool_pages").(int64); ok {
		cfg.PoolPages = int(v)
	}
	if v, ok := tree.Get("buffer_pool.replacer_k").(int64); ok {
		cfg.ReplacerK = int(v)
	}
	if v, ok := tree.Get("btree.leaf_max_size").(int64); ok {
		cfg.LeafMaxSize = int(v)
	}
	if v, ok := tree.Get("btree.internal_max_size").(int64); ok {
		cfg.InternalMaxSize = int(v)
	}
	if v, ok := tree.Get("btree.key_size").(int64); ok {
		cfg.KeySize = int(v)
	}
	return cfg.normalize()
}

func (cfg *Cfg) normalize() error {
	if cfg.PoolPages <= 0 {
		return errors.NotValidf("pool_pages %d", cfg.PoolPages)
	}
	if cfg.ReplacerK <= 0 {
		return errors.NotValidf("replacer_k %d", cfg.ReplacerK)
	}
	switch cfg.KeySize {
	case 4, 8, 16, 32, 64:
	default:
		return errors.NotValidf("key_size %d", cfg.KeySize)
	}
	d, err := time.ParseDuration(cfg.FlushInterval)
	if err != nil {
		return errors.NotValidf("flush_interval %s", cfg.FlushInterval)
	}
	cfg.FlushIntervalDuration = d
	return nil
}
