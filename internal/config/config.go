package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Sources  SourcesConfig  `yaml:"sources" mapstructure:"sources"`
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Analysis AnalysisConfig `yaml:"analysis" mapstructure:"analysis"`
	Render   RenderConfig   `yaml:"render" mapstructure:"render"`
	Simulate SimulateConfig `yaml:"simulate" mapstructure:"simulate"`
	Router   RouterConfig   `yaml:"router" mapstructure:"router"`
	Tiger    TigerConfig    `yaml:"tiger" mapstructure:"tiger"`
	HTTP     HTTPConfig     `yaml:"http" mapstructure:"http"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// SourcesConfig locates the input files of the pipeline.
type SourcesConfig struct {
	SheltersJSON     string `yaml:"shelters_json" mapstructure:"shelters_json"`
	SheltersURL      string `yaml:"shelters_url" mapstructure:"shelters_url"`
	RoutesJSON       string `yaml:"routes_json" mapstructure:"routes_json"`
	BoundaryGeoJSON  string `yaml:"boundary_geojson" mapstructure:"boundary_geojson"`
	Population       string `yaml:"population" mapstructure:"population"`
	PopulationGEOID  string `yaml:"population_geoid_column" mapstructure:"population_geoid_column"`
	PopulationPrefix string `yaml:"population_geoid_prefix" mapstructure:"population_geoid_prefix"`
	PopulationColumn string `yaml:"population_total_column" mapstructure:"population_total_column"`
}

// StoreConfig configures the geometry and route stores.
type StoreConfig struct {
	Driver      string      `yaml:"driver" mapstructure:"driver"` // "mongo" or "postgres"
	DatabaseURL string      `yaml:"database_url" mapstructure:"database_url"`
	Mongo       MongoConfig `yaml:"mongo" mapstructure:"mongo"`
	CacheSize   int         `yaml:"cache_size" mapstructure:"cache_size"`
	RunsDB      string      `yaml:"runs_db" mapstructure:"runs_db"`
}

// MongoConfig names the databases and collections holding geometries and
// raw route documents. GeometryIndex selects the polygon member of a stored
// GeometryCollection; -1 means documents hold a bare polygon.
type MongoConfig struct {
	URI                  string `yaml:"uri" mapstructure:"uri"`
	BlockGroupDB         string `yaml:"blockgroup_db" mapstructure:"blockgroup_db"`
	BlockGroupCollection string `yaml:"blockgroup_collection" mapstructure:"blockgroup_collection"`
	ZoneDB               string `yaml:"zone_db" mapstructure:"zone_db"`
	ZoneCollection       string `yaml:"zone_collection" mapstructure:"zone_collection"`
	RouteDB              string `yaml:"route_db" mapstructure:"route_db"`
	RouteCollection      string `yaml:"route_collection" mapstructure:"route_collection"`
	GeometryIndex        int    `yaml:"geometry_index" mapstructure:"geometry_index"`
	ConnectTimeoutSecs   int    `yaml:"connect_timeout_secs" mapstructure:"connect_timeout_secs"`
}

// AnalysisConfig holds the aggregation parameters.
type AnalysisConfig struct {
	OutDir           string   `yaml:"out_dir" mapstructure:"out_dir"`
	Modes            []string `yaml:"modes" mapstructure:"modes"`
	NClosest         []int    `yaml:"n_closest" mapstructure:"n_closest"`
	ExcludeZones     []string `yaml:"exclude_zones" mapstructure:"exclude_zones"`
	ExclusionEnabled bool     `yaml:"exclusion_enabled" mapstructure:"exclusion_enabled"`
	IgnoreGEOIDs     []string `yaml:"ignore_geoids" mapstructure:"ignore_geoids"`
	ZoneBuffer       float64  `yaml:"zone_buffer" mapstructure:"zone_buffer"`
}

// RenderConfig controls map appearance.
type RenderConfig struct {
	DPI               int       `yaml:"dpi" mapstructure:"dpi"`
	WidthInches       float64   `yaml:"width_inches" mapstructure:"width_inches"`
	HeightInches      float64   `yaml:"height_inches" mapstructure:"height_inches"`
	BoundingBox       []float64 `yaml:"bounding_box" mapstructure:"bounding_box"` // min lng, min lat, max lng, max lat
	Colormap          []string  `yaml:"colormap" mapstructure:"colormap"`
	BoundaryColor     string    `yaml:"boundary_color" mapstructure:"boundary_color"`
	InaccessibleColor string    `yaml:"inaccessible_color" mapstructure:"inaccessible_color"`
	PolygonOpacity    float64   `yaml:"polygon_opacity" mapstructure:"polygon_opacity"`
	ShelterColor      string    `yaml:"shelter_color" mapstructure:"shelter_color"`
	ExcludedColor     string    `yaml:"excluded_color" mapstructure:"excluded_color"`
	UnusedColor       string    `yaml:"unused_color" mapstructure:"unused_color"`
	ShelterMinSize    float64   `yaml:"shelter_min_size" mapstructure:"shelter_min_size"`
	ShelterMaxSize    float64   `yaml:"shelter_max_size" mapstructure:"shelter_max_size"`
	LinkColor         string    `yaml:"link_color" mapstructure:"link_color"`
	LinkWidth         float64   `yaml:"link_width" mapstructure:"link_width"`
	LinkOpacity       float64   `yaml:"link_opacity" mapstructure:"link_opacity"`
	TitleFontSize     float64   `yaml:"title_font_size" mapstructure:"title_font_size"`
	TileURL           string    `yaml:"tile_url" mapstructure:"tile_url"`
	TileZoom          int       `yaml:"tile_zoom" mapstructure:"tile_zoom"`
	TileCacheDir      string    `yaml:"tile_cache_dir" mapstructure:"tile_cache_dir"`
	SharedScale       bool      `yaml:"shared_scale" mapstructure:"shared_scale"`
}

// SimulateConfig configures the routing simulation driver.
type SimulateConfig struct {
	Workers         int                  `yaml:"workers" mapstructure:"workers"`
	Zones           []string             `yaml:"zones" mapstructure:"zones"`
	OriginOverrides map[string][]float64 `yaml:"origin_overrides" mapstructure:"origin_overrides"`
	Sink            string               `yaml:"sink" mapstructure:"sink"` // "mongo" or a file path
}

// RouterConfig points at a running OpenTripPlanner instance.
type RouterConfig struct {
	BaseURL     string `yaml:"base_url" mapstructure:"base_url"`
	RouterID    string `yaml:"router_id" mapstructure:"router_id"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	Date        string `yaml:"date" mapstructure:"date"`
	Time        string `yaml:"time" mapstructure:"time"`
}

// TigerConfig configures Census TIGER/Line downloads for geometry loads.
type TigerConfig struct {
	Year    int    `yaml:"year" mapstructure:"year"`
	State   string `yaml:"state" mapstructure:"state"`
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir"`
}

// HTTPConfig configures outbound downloads.
type HTTPConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SHELTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("sources.shelters_json", "sources/shelters.json")
	v.SetDefault("sources.shelters_url", "https://services.arcgis.com/sFnw0xNflSi8J0uh/arcgis/rest/services/Neighborhood_Emergency_Shelters/FeatureServer/0/query?f=json&where=1=1&returnGeometry=true&spatialRel=esriSpatialRelIntersects&outFields=*&outSR=102100&resultOffset=0&resultRecordCount=1000")
	v.SetDefault("sources.routes_json", "sources/shelter_routes.json")
	v.SetDefault("sources.boundary_geojson", "sources/boston.geojson")
	v.SetDefault("sources.population", "sources/acs5_2015_ma_subset.csv")
	v.SetDefault("sources.population_geoid_column", "GEOID")
	v.SetDefault("sources.population_geoid_prefix", "15000US")
	v.SetDefault("sources.population_total_column", "B01003e1")
	v.SetDefault("store.driver", "mongo")
	v.SetDefault("store.cache_size", 4096)
	v.SetDefault("store.runs_db", "analysis/runs.db")
	v.SetDefault("store.mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("store.mongo.blockgroup_db", "tiger_2016")
	v.SetDefault("store.mongo.blockgroup_collection", "blockgroups")
	v.SetDefault("store.mongo.zone_db", "massgis_mapserver")
	v.SetDefault("store.mongo.zone_collection", "CityServices.Evacuation")
	v.SetDefault("store.mongo.route_db", "local")
	v.SetDefault("store.mongo.route_collection", "shelter_routes")
	v.SetDefault("store.mongo.geometry_index", 1)
	v.SetDefault("store.mongo.connect_timeout_secs", 15)
	v.SetDefault("analysis.out_dir", "analysis")
	v.SetDefault("analysis.modes", []string{"walk", "drive", "transit"})
	v.SetDefault("analysis.n_closest", []int{1, 3})
	v.SetDefault("analysis.exclude_zones", []string{"ZONE A", "ZONE B", "ZONE C"})
	v.SetDefault("analysis.exclusion_enabled", true)
	v.SetDefault("analysis.ignore_geoids", []string{"250259901010", "250235001011"})
	v.SetDefault("analysis.zone_buffer", 1e-9)
	v.SetDefault("render.dpi", 400)
	v.SetDefault("render.width_inches", 6.4)
	v.SetDefault("render.height_inches", 4.8)
	v.SetDefault("render.bounding_box", []float64{-71.2, 42.21, -70.9, 42.42})
	v.SetDefault("render.colormap", []string{
		"#ffffcc", "#ffeda0", "#fed976", "#feb24c", "#fd8d3c",
		"#fc4e2a", "#e31a1c", "#bd0026", "#800026",
	})
	v.SetDefault("render.boundary_color", "#777777")
	v.SetDefault("render.inaccessible_color", "#bbbbbb")
	v.SetDefault("render.polygon_opacity", 0.8)
	v.SetDefault("render.shelter_color", "#4daf4a")
	v.SetDefault("render.excluded_color", "#377eb8")
	v.SetDefault("render.unused_color", "#2f6b2d")
	v.SetDefault("render.shelter_min_size", 2)
	v.SetDefault("render.shelter_max_size", 5)
	v.SetDefault("render.link_color", "#294040")
	v.SetDefault("render.link_width", 0.25)
	v.SetDefault("render.link_opacity", 0.2)
	v.SetDefault("render.title_font_size", 8)
	v.SetDefault("render.tile_zoom", 13)
	v.SetDefault("render.tile_cache_dir", "sources/tiles")
	v.SetDefault("render.shared_scale", true)
	v.SetDefault("simulate.zones", []string{"ZONE A", "ZONE B", "ZONE C"})
	v.SetDefault("simulate.sink", "mongo")
	v.SetDefault("simulate.origin_overrides", map[string][]float64{
		"250259813002": {-71.01728, 42.36671}, // logan airport
		"250259817001": {-71.06843, 42.35438}, // boston common
		"250250008032": {-71.11566, 42.35170}, // bu agganis arena
	})
	v.SetDefault("router.base_url", "http://localhost:8080")
	v.SetDefault("router.router_id", "default")
	v.SetDefault("router.timeout_secs", 60)
	v.SetDefault("tiger.year", 2016)
	v.SetDefault("tiger.state", "25")
	v.SetDefault("tiger.temp_dir", "/tmp/shelter-access")
	v.SetDefault("http.user_agent", "shelter-access/1.0")
	v.SetDefault("http.timeout_secs", 30)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command depends on and reports every
// problem at once. Valid commands: "analyze", "normalize", "simulate",
// "geoload", "export", "shelters".
func (c *Config) Validate(command string) error {
	var problems []string

	needStore := func() {
		switch c.Store.Driver {
		case "mongo":
			if c.Store.Mongo.URI == "" {
				problems = append(problems, "store.mongo.uri is required")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		default:
			problems = append(problems, fmt.Sprintf("store.driver %q is not mongo or postgres", c.Store.Driver))
		}
	}

	switch command {
	case "analyze":
		needStore()
		if len(c.Analysis.Modes) == 0 {
			problems = append(problems, "analysis.modes is empty")
		}
		if len(c.Analysis.NClosest) == 0 {
			problems = append(problems, "analysis.n_closest is empty")
		}
		for _, n := range c.Analysis.NClosest {
			if n < 1 {
				problems = append(problems, fmt.Sprintf("analysis.n_closest values must be >= 1, got %d", n))
			}
		}
		if c.Analysis.ZoneBuffer < 0 {
			problems = append(problems, "analysis.zone_buffer must not be negative")
		}
		if len(c.Render.BoundingBox) != 4 {
			problems = append(problems, fmt.Sprintf("render.bounding_box needs 4 values, got %d", len(c.Render.BoundingBox)))
		}
		if c.Render.ShelterMaxSize < c.Render.ShelterMinSize {
			problems = append(problems, "render.shelter_max_size is below render.shelter_min_size")
		}
		if len(c.Render.Colormap) < 2 {
			problems = append(problems, "render.colormap needs at least 2 colors")
		}
	case "normalize":
		if len(c.Analysis.Modes) == 0 {
			problems = append(problems, "analysis.modes is empty")
		}
		if c.Sources.SheltersJSON == "" {
			problems = append(problems, "sources.shelters_json is required")
		}
	case "simulate":
		needStore()
		if c.Router.BaseURL == "" {
			problems = append(problems, "router.base_url is required")
		}
		if len(c.Simulate.Zones) == 0 {
			problems = append(problems, "simulate.zones is empty")
		}
		for geoid, origin := range c.Simulate.OriginOverrides {
			if len(origin) != 2 {
				problems = append(problems, fmt.Sprintf("simulate.origin_overrides.%s needs [lng, lat]", geoid))
			}
		}
	case "geoload":
		needStore()
	case "export":
		if c.Store.Driver != "mongo" {
			problems = append(problems, "raw route export requires store.driver mongo")
		}
		if c.Store.Mongo.URI == "" {
			problems = append(problems, "store.mongo.uri is required")
		}
		if c.Sources.RoutesJSON == "" {
			problems = append(problems, "sources.routes_json is required")
		}
	case "shelters":
		if c.Sources.SheltersURL == "" {
			problems = append(problems, "sources.shelters_url is required")
		}
	default:
		return eris.Errorf("config: unknown command %q", command)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Zones returns the exclusion zones for analysis, or nil when the filter is
// disabled.
func (a AnalysisConfig) Zones() []string {
	if !a.ExclusionEnabled || len(a.ExcludeZones) == 0 {
		return nil
	}
	zones := make([]string, len(a.ExcludeZones))
	copy(zones, a.ExcludeZones)
	return zones
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
