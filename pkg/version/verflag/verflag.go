// Package verflag defines the --version flag shared by the commands.
package verflag

import (
	"fmt"
	"os"
	"pacbridge/pkg/version"
	"strconv"

	"github.com/spf13/pflag"
)

type versionValue int

const (
	VersionFalse versionValue = 0
	VersionTrue  versionValue = 1
	VersionRaw   versionValue = 2
)

const strRawVersion = "raw"

func (v *versionValue) IsBoolFlag() bool {
	return true
}

func (v *versionValue) Get() interface{} {
	return *v
}

func (v *versionValue) Set(s string) error {
	if s == strRawVersion {
		*v = VersionRaw
		return nil
	}
	boolVal, err := strconv.ParseBool(s)
	if boolVal {
		*v = VersionTrue
	} else {
		*v = VersionFalse
	}
	return err
}

func (v *versionValue) String() string {
	if *v == VersionRaw {
		return strRawVersion
	}
	return fmt.Sprintf("%v", bool(*v == VersionTrue))
}

func (v *versionValue) Type() string {
	return "version"
}

const versionFlagName = "version"

var versionFlag = VersionFalse

// AddFlags registers --version on fs.
func AddFlags(fs *pflag.FlagSet) {
	fs.Var(&versionFlag, versionFlagName, "Print version information and quit")
	fs.Lookup(versionFlagName).NoOptDefVal = "true"
}

// PrintAndExitIfRequested prints the version and exits when --version was given.
func PrintAndExitIfRequested() {
	switch versionFlag {
	case VersionRaw:
		fmt.Printf("%#v\n", version.Get())
		os.Exit(0)
	case VersionTrue:
		fmt.Printf("pacbridge %s\n", version.Get())
		os.Exit(0)
	}
}
