package config

const (
	defaultConfigPath       = "~/.config/goggles/config.toml"
	defaultAssetBaseURL     = "http://127.0.0.1:8080"
	defaultAssetStore       = StoreSQLite
	defaultDownloadTimeout  = 600
	defaultDownloadWorkers  = 3
	defaultMemoEntries      = 16
	defaultInputName        = "pixel_values"
	defaultOutputName       = "logits"
	defaultTopK             = 20
	defaultHighConfidence   = 0.5
	defaultEstimatedSeconds = 8
	defaultCatalogSource    = CatalogFile
	defaultCatalogPath      = "~/.config/goggles/catalog.json"
	defaultHandoffTimeout   = 30
	defaultServerBind       = "127.0.0.1:8080"
	defaultServerAssetDir   = "./onnx"
	defaultMaxUploadBytes   = 5 << 20
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// Asset store backends.
const (
	StoreSQLite = "sqlite"
	StoreDir    = "dir"
)

// Catalog sources.
const (
	CatalogFile     = "file"
	CatalogPostgres = "postgres"
	CatalogMySQL    = "mysql"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Assets: Assets{
			BaseURL:         defaultAssetBaseURL,
			Store:           defaultAssetStore,
			CacheDir:        defaultCacheDir(),
			DownloadTimeout: defaultDownloadTimeout,
			Concurrency:     defaultDownloadWorkers,
			MemoEntries:     defaultMemoEntries,
		},
		Runtime: Runtime{
			InputName:  defaultInputName,
			OutputName: defaultOutputName,
		},
		Ranking: Ranking{
			TopK:           defaultTopK,
			HighConfidence: defaultHighConfidence,
		},
		Pipeline: Pipeline{
			EstimatedSeconds: defaultEstimatedSeconds,
		},
		Catalog: Catalog{
			Source: defaultCatalogSource,
			Path:   defaultCatalogPath,
		},
		Handoff: Handoff{
			Timeout: defaultHandoffTimeout,
		},
		Server: Server{
			Bind:           defaultServerBind,
			AssetDir:       defaultServerAssetDir,
			MaxUploadBytes: defaultMaxUploadBytes,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
