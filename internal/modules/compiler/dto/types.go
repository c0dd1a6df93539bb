package dto

import "time"

type AdapterInfo struct {
	Version            string
	DependencyNotation string
	CompileMethod      string
	SharedPackages     []string
	DefaultFormats     []FormatInfo
}

type FormatInfo struct {
	Extension  string
	ID         string
	FormatType string
}

type EnvironmentInfo struct {
	Version    string
	Coordinate string
	ID         string
	Packages   []string
}

type CompileInput struct {
	Version         string
	SourceFile      string
	SourceRoot      string
	DestinationRoot string
	Imports         string
	// Format is "extension:id[:formatType]"; empty selects from the adapter defaults.
	Format string
}

type CompileAllInput struct {
	Version         string
	SourceRoot      string
	DestinationRoot string
	Imports         string
	Jobs            int
}

type CompileOutput struct {
	InvocationID string
	Version      string
	Coordinate   string
	SourceFile   string
	Output       string
	Changed      bool
	Duration     time.Duration
	Error        string
}

type DoctorResult struct {
	Version          string
	Coordinate       string
	ArtifactResolved bool
	EnvironmentOK    bool
	MethodResolved   bool
	Error            string
}

type HistoryEntry struct {
	ID         string
	Version    string
	Coordinate string
	SourceFile string
	Output     string
	Status     string
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}
