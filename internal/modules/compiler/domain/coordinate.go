package domain

import (
	"fmt"
	"regexp"
	"strings"
)

var sha256Pattern = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Coordinate identifies a versioned dependency as group:artifact:version.
type Coordinate struct {
	Group    string
	Artifact string
	Version  string
}

func ParseCoordinate(raw string) (Coordinate, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 3 {
		return Coordinate{}, fmt.Errorf("coordinate %q must be group:artifact:version", raw)
	}
	c := Coordinate{Group: parts[0], Artifact: parts[1], Version: parts[2]}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

func MustParseCoordinate(raw string) Coordinate {
	c, err := ParseCoordinate(raw)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Coordinate) Validate() error {
	if c.Group == "" {
		return fmt.Errorf("coordinate group is required")
	}
	if c.Artifact == "" {
		return fmt.Errorf("coordinate artifact is required")
	}
	if c.Version == "" {
		return fmt.Errorf("coordinate version is required")
	}
	return nil
}

func (c Coordinate) String() string {
	return c.Group + ":" + c.Artifact + ":" + c.Version
}

func (c Coordinate) IsZero() bool {
	return c == Coordinate{}
}

// Artifact is a materialized coordinate: a sandbox binary plus its expected checksum.
type Artifact struct {
	Coordinate string `yaml:"coordinate"`
	Binary     string `yaml:"binary"`
	SHA256     string `yaml:"sha256"`
}

func (a Artifact) Validate() error {
	if _, err := ParseCoordinate(a.Coordinate); err != nil {
		return err
	}
	if a.Binary == "" {
		return fmt.Errorf("artifact binary path is required")
	}
	if !sha256Pattern.MatchString(a.SHA256) {
		return fmt.Errorf("artifact sha256 must be lowercase 64-char hex")
	}
	return nil
}
