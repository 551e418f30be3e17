package cmd

import (
	"fmt"
	"log"
	"os"

	pkgbisign "github.com/go-i2p/pbosign/bisign"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// bisignCmd represents the bisign command
var bisignCmd = &cobra.Command{
	Use:   "bisign",
	Short: "Inspect a .bisign signature file",
	Run: func(cmd *cobra.Command, args []string) {
		viper.Unmarshal(c)
		if err := Bisign(); err != nil {
			log.Fatalf("bisign: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(bisignCmd)

	bisignCmd.Flags().String("sig", "", "path to the .bisign signature file")
	bisignCmd.Flags().Bool("pubout", false, "also write the embedded public key as <sig>.bipublickey")

	viper.BindPFlags(bisignCmd.Flags())
}

// Bisign reads c.Sig and prints the signature version and the embedded
// public key, optionally exporting that key with --pubout.
func Bisign() error {
	if c.Sig == "" {
		return fmt.Errorf("bisign: --sig is required")
	}
	f, err := os.Open(c.Sig)
	if err != nil {
		return err
	}
	defer f.Close()

	sig, err := pkgbisign.ReadFile(f)
	if err != nil {
		return err
	}
	fmt.Printf("Version: %d\n", sig.Version)
	fmt.Println(sig.PublicKey.String())
	if c.Pubout {
		return sig.PublicKey.Export(c.Sig + ".bipublickey")
	}
	return nil
}
