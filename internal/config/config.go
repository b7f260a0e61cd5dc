package config

import "time"

// Remote catalog endpoints of the EEA AirQuality e-Reporting download service.
const (
	DefaultMetadataURL = "http://discomap.eea.europa.eu/map/fme/metadata/PanEuropean_metadata.csv"
	DefaultFileListURL = "https://fme.discomap.eea.europa.eu/fmedatastreaming/AirQualityDownload/AQData_Extract.fmw"
)

const (
	DefaultCacheRoot   = "./data"
	DefaultJournalName = "journal.duckdb"
	DefaultYearFrom    = 2013
	DefaultYearTo      = 2019
	DefaultSource      = "E1a"
	DefaultTimeout     = 120 * time.Second

	// BuiltinDDL selects the observation table script embedded in the binary
	// for the dialect of the sink.
	BuiltinDDL = "builtin"

	// ConnectionEnv names the environment variable holding the sink DSN.
	ConnectionEnv = "TIMESCALEDB_CONNECTION"
)

// Config holds application settings
type Config struct {
	CacheRoot   string
	JournalPath string // empty disables the fetch journal

	MetadataURL string
	FileListURL string
	YearFrom    int
	YearTo      int
	Source      string

	UserAgent         string
	HTTPTimeout       time.Duration
	RequestsPerSecond float64 // 0 means unlimited

	ConnectionString string
	ObservationDDL   string // BuiltinDDL or a script path run by `load meta`, empty skips it
	MaxFiles         int    // 0 means no bound on `load observations`

	Progress bool
}

// Default returns the settings used when no flags override them.
func Default() Config {
	return Config{
		CacheRoot:      DefaultCacheRoot,
		MetadataURL:    DefaultMetadataURL,
		FileListURL:    DefaultFileListURL,
		YearFrom:       DefaultYearFrom,
		YearTo:         DefaultYearTo,
		Source:         DefaultSource,
		HTTPTimeout:    DefaultTimeout,
		ObservationDDL: BuiltinDDL,
		Progress:       true,
	}
}
