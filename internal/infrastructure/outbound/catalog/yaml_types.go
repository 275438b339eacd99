package catalog

// yamlCatalog is the YAML deserialization target for catalog files. A file may
// also be a bare list of stations.
type yamlCatalog struct {
	Stations []yamlStation `yaml:"stations"`
}

type yamlStation struct {
	ID      int      `yaml:"id"`
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases,omitempty"`
	X       float64  `yaml:"x"`
	Y       float64  `yaml:"y"`
}
