// Package config defines the Conf struct used by the cmd package to bind cobra
// flags and viper configuration values into a single typed structure.
package config

// Conf holds the configuration values populated by viper from cobra flags,
// environment variables, or a config file.
//
// mapstructure tags are required wherever the lowercased Go field name does
// not match the cobra flag name that viper binds.  Without them,
// viper.Unmarshal silently leaves those fields at their zero value.
type Conf struct {
	// Key is the path to a BI-format, DER, or PEM key file, depending
	// on Keyform. Used by sign, verify, and key.
	Key string
	// Pbo is the path to a PBO archive. Used by sign, verify, and pbo.
	Pbo string
	// Sig is the path to a .bisign signature file. Used by verify and
	// bisign.
	Sig string
	// Keyform selects how Key is parsed: "bi" (default), "der", or
	// "pem".
	Keyform string `mapstructure:"keyform"`
	// Version selects the signature hash variant: 2 or 3.
	Version int
	// Privin tells verify to treat Key as a private key and derive
	// the public key from it, instead of reading a public key
	// directly.
	Privin bool
	// Pubin tells key to treat Key as a public key rather than a
	// private key.
	Pubin bool
	// Pubout tells key/bisign to also write out the (derived) public
	// key alongside printing it.
	Pubout bool
	// Privout tells key to also write out the private key alongside
	// printing it.
	Privout bool

	// Create, Extract, List, and Info select the pbo subcommand's
	// mode of operation; exactly one is expected to be set.
	Create  bool
	Extract bool
	List    bool
	Info    bool
	// Include and Exclude are case-insensitive shell globs applied
	// to member/candidate paths during create, list, and extract.
	Include string
	Exclude string
	// Files lists the files and directories to pack, with --create.
	Files []string
	// HeaderExtension holds "key=value" pairs to set on the archive's
	// header extension, with --create.
	HeaderExtension []string `mapstructure:"header-extension"`
}
