package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/go-i2p/pbosign/archive"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// signCmd represents the sign command
var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Sign a PBO archive with a private key",
	Run: func(cmd *cobra.Command, args []string) {
		viper.Unmarshal(c)
		if err := Sign(); err != nil {
			log.Fatalf("sign: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(signCmd)

	signCmd.Flags().String("key", "", "path to the private key")
	signCmd.Flags().String("pbo", "", "path to the PBO archive to sign")
	signCmd.Flags().String("keyform", "bi", "private key form: bi, der, or pem")
	signCmd.Flags().Int("version", 3, "signature version: 2 or 3")

	viper.BindPFlags(signCmd.Flags())
}

// Sign signs c.Pbo with c.Key under c.Version, writing a co-located
// .bisign file and printing its path.
func Sign() error {
	if c.Key == "" || c.Pbo == "" {
		return fmt.Errorf("sign: --key and --pbo are required")
	}
	outPath, err := archive.Sign(c.Key, c.Pbo, c.Keyform, c.Version)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Signature created: %s\n", outPath)
	return nil
}
