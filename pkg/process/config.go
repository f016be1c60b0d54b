// Copyright (C) 2024 Barhop Labs.
// See LICENSE for copying information.

package process

import (
	"os"

	"github.com/spf13/pflag"
	yaml "gopkg.in/yaml.v3"
)

// SaveConfig writes the current flag values as a yaml config file.
// Flags that control the process itself (config-dir, help) are left
// out so the file round-trips cleanly through ApplyViper.
func SaveConfig(flags *pflag.FlagSet, outfile string) error {
	values := map[string]string{}
	flags.VisitAll(func(f *pflag.Flag) {
		switch f.Name {
		case "config-dir", "help":
			return
		}
		values[f.Name] = f.Value.String()
	})

	data, err := yaml.Marshal(values)
	if err != nil {
		return Error.Wrap(err)
	}
	return Error.Wrap(os.WriteFile(outfile, data, 0600))
}
