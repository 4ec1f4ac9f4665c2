package schema

// File is the merged content of every *.ferry.yaml file in a config dir.
type File struct {
	Jobs  map[string]Job  `yaml:"jobs"`
	Plans map[string]Plan `yaml:"plans"`
}
