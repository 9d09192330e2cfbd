package config

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// FlagLoader reads a value from the command line when the flag was set
// explicitly and from viper (env, config file, default) otherwise.
type FlagLoader struct {
	cmd *cobra.Command
	v   *viper.Viper
}

func NewFlagLoader(cmd *cobra.Command, v *viper.Viper) *FlagLoader {
	return &FlagLoader{cmd: cmd, v: v}
}

func (f *FlagLoader) changed(name string) bool {
	flag := f.cmd.Flags().Lookup(name)
	return flag != nil && flag.Changed
}

func (f *FlagLoader) String(name string) string {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetString(name)
		return val
	}
	return f.v.GetString(name)
}

func (f *FlagLoader) Int(name string) int {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetInt(name)
		return val
	}
	return f.v.GetInt(name)
}

func (f *FlagLoader) Uint(name string) uint {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetUint(name)
		return val
	}
	return f.v.GetUint(name)
}

func (f *FlagLoader) Bool(name string) bool {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetBool(name)
		return val
	}
	return f.v.GetBool(name)
}

func (f *FlagLoader) StringSlice(name string) []string {
	if f.changed(name) {
		val, _ := f.cmd.Flags().GetStringSlice(name)
		return val
	}
	return f.v.GetStringSlice(name)
}
