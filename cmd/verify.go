package cmd

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/go-i2p/pbosign/archive"
	"github.com/go-i2p/pbosign/bisign"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// verifyCmd represents the verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify a PBO archive against a .bisign signature",
	Run: func(cmd *cobra.Command, args []string) {
		viper.Unmarshal(c)
		ok, err := Verify()
		if err != nil {
			if errors.Is(err, bisign.ErrVerificationFailed) {
				// Verification failure gets its own exit code, distinct
				// from a malformed key/archive/signature (log.Fatalf below).
				fmt.Println("Signature verification failed")
				os.Exit(1)
			}
			log.Fatalf("verify: %v", err)
		}
		if ok {
			fmt.Println("Signature verified")
		}
	},
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().String("key", "", "path to the public key (or private key, with --privin)")
	verifyCmd.Flags().String("pbo", "", "path to the PBO archive")
	verifyCmd.Flags().String("sig", "", "path to the .bisign signature file")
	verifyCmd.Flags().String("keyform", "bi", "key form: bi, der, or pem")
	verifyCmd.Flags().Bool("privin", false, "treat --key as a private key and derive the public key from it")

	viper.BindPFlags(verifyCmd.Flags())
}

// Verify checks c.Sig against c.Pbo using c.Key.
func Verify() (bool, error) {
	if c.Key == "" || c.Pbo == "" || c.Sig == "" {
		return false, fmt.Errorf("verify: --key, --pbo, and --sig are required")
	}
	return archive.Verify(c.Key, c.Pbo, c.Sig, c.Keyform, c.Privin)
}
