// Package config loads the service configuration.
//
// # Configuration Sources
//
// Values are layered in this order, later sources winning:
//
//	1. Default() values
//	2. A YAML file: $GRIDEXPORT_CONFIG, ./config.yaml or ./configs/config.yaml
//	3. Environment variables
//
// # Environment Variables
//
// Variables are namespaced with GRIDEXPORT and follow the struct layout:
//
//	GRIDEXPORT_SERVER_PORT=8080
//	GRIDEXPORT_DATABASE_DRIVER=postgres
//	GRIDEXPORT_DATABASE_DSN=postgres://magento@localhost/magento
//	GRIDEXPORT_EXPORT_PAGE_SIZE=500
//	GRIDEXPORT_EXPORT_TIMEZONE=Europe/Berlin
//
// # Paths
//
// Relative paths are resolved against BaseDir(): the working directory when
// it has a configs/ directory, otherwise the executable directory. File
// exports are written under PathsConfig.ExportDir().
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
