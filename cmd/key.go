package cmd

import (
	"fmt"
	"log"

	"github.com/go-i2p/pbosign/bikey"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// keyCmd represents the key command
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Inspect or convert a BI, DER, or PEM RSA key",
	Run: func(cmd *cobra.Command, args []string) {
		viper.Unmarshal(c)
		if err := Key(); err != nil {
			log.Fatalf("key: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(keyCmd)

	keyCmd.Flags().String("key", "", "path to the key file")
	keyCmd.Flags().String("keyform", "bi", "key form: bi, der, or pem")
	keyCmd.Flags().Bool("pubin", false, "treat --key as a public key rather than a private key")
	keyCmd.Flags().Bool("pubout", false, "also write the (derived) public key as <key>.bipublickey")
	keyCmd.Flags().Bool("privout", false, "also write the private key as <key>.biprivatekey")

	viper.BindPFlags(keyCmd.Flags())
}

// Key loads c.Key under c.Keyform and prints it. With c.Pubin unset, the
// key is loaded as a private key; --pubout then derives and exports its
// public half. With c.Pubin set, the key is loaded as a public key and
// --privout is rejected, since a public key cannot yield a private one.
func Key() error {
	if c.Key == "" {
		return fmt.Errorf("key: --key is required")
	}

	if c.Pubin {
		if c.Privout {
			return fmt.Errorf("key: --privout cannot be used with --pubin")
		}
		pub, err := bikey.LoadPublicKey(c.Key, c.Keyform)
		if err != nil {
			return err
		}
		fmt.Println(pub.String())
		if c.Pubout {
			return pub.Export(c.Key + ".bipublickey")
		}
		return nil
	}

	priv, err := bikey.LoadPrivateKey(c.Key, c.Keyform)
	if err != nil {
		return err
	}
	fmt.Println(priv.String())
	if c.Privout {
		if err := priv.Export(c.Key + ".biprivatekey"); err != nil {
			return err
		}
	}
	if c.Pubout {
		if err := priv.PublicKey.Export(c.Key + ".bipublickey"); err != nil {
			return err
		}
	}
	return nil
}
