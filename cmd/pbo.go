package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-i2p/pbosign/archive"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// pboCmd represents the pbo command
var pboCmd = &cobra.Command{
	Use:   "pbo",
	Short: "Create, list, extract, or inspect a PBO archive",
	Run: func(cmd *cobra.Command, args []string) {
		viper.Unmarshal(c)
		if err := Pbo(); err != nil {
			log.Fatalf("pbo: %v", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(pboCmd)

	pboCmd.Flags().String("pbo", "", "path to the PBO archive")
	pboCmd.Flags().Bool("create", false, "create a new archive from --files")
	pboCmd.Flags().Bool("extract", false, "extract the archive into <--pbo>.extracted, or --files[0] if given")
	pboCmd.Flags().Bool("list", false, "list archive members")
	pboCmd.Flags().Bool("info", false, "print the archive's header extension")
	pboCmd.Flags().String("include", "*", "case-insensitive glob of members to include")
	pboCmd.Flags().String("exclude", "", "case-insensitive glob of members to exclude")
	pboCmd.Flags().StringSlice("files", nil, "files or directories to pack (--create) or destination dir (--extract)")
	pboCmd.Flags().StringSlice("header-extension", nil, "key=value pairs to set on the archive's header extension (--create)")

	viper.BindPFlags(pboCmd.Flags())
}

func parseHeaderExtension(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	ext := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("pbo: malformed --header-extension entry %q, want key=value", p)
		}
		ext[k] = v
	}
	return ext, nil
}

// Pbo dispatches to archive.Create, List, Extract, or Info based on
// exactly one of c.Create, c.List, c.Extract, or c.Info.
func Pbo() error {
	if c.Pbo == "" {
		return fmt.Errorf("pbo: --pbo is required")
	}
	switch {
	case c.Create:
		ext, err := parseHeaderExtension(c.HeaderExtension)
		if err != nil {
			return err
		}
		return archive.Create(c.Pbo, c.Files, ext, c.Include, c.Exclude, true)
	case c.List:
		names, err := archive.List(context.Background(), c.Pbo, c.Include, c.Exclude)
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return nil
	case c.Extract:
		dest := c.Pbo + ".extracted"
		if len(c.Files) > 0 {
			dest = c.Files[0]
		}
		return archive.Extract(context.Background(), c.Pbo, dest, c.Include, c.Exclude, true)
	case c.Info:
		return archive.Info(os.Stdout, c.Pbo)
	default:
		return fmt.Errorf("pbo: one of --create, --list, --extract, or --info is required")
	}
}
