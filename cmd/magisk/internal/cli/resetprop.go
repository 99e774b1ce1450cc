package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/magiskd/magiskd/internal/pkg/db"
)

// resetpropPrefix namespaces persisted properties in the strings bucket
// away from every other key this module stores there (e.g. the
// configured manager package name), matching original_source's
// persist.magisk.* property convention without needing a dedicated
// bucket of its own.
const resetpropPrefix = "prop."

// newResetpropCommand is a minimal Android system-property get/set tool:
// `resetprop name` prints the value, `resetprop name value` sets it,
// `resetprop -n` lists every known name. It persists into the same
// on-disk store the daemon reads settings from rather than talking to
// Android's own property service, since this module never runs the
// Android property daemon itself (SPEC_FULL.md Non-goals).
func newResetpropCommand() *cobra.Command {
	var list bool
	cmd := &cobra.Command{
		Use:   "resetprop [name] [value]",
		Short: "Get or set a persisted Magisk property",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := db.Open(storePath)
			if err != nil {
				return err
			}
			defer store.Close()

			switch {
			case list:
				return listProps(store)
			case len(args) == 1:
				return getProp(store, args[0])
			case len(args) == 2:
				return setProp(store, args[0], args[1])
			default:
				return fmt.Errorf("usage: resetprop [-n] <name> [value]")
			}
		},
	}
	cmd.Flags().BoolVarP(&list, "list", "n", false, "list every persisted property")
	return cmd
}

func getProp(store *db.DB, name string) error {
	v, ok, err := store.String(resetpropPrefix + name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("resetprop: %s is not set", name)
	}
	fmt.Println(v)
	return nil
}

func setProp(store *db.DB, name, value string) error {
	return store.PutString(resetpropPrefix+name, value)
}

func listProps(store *db.DB) error {
	names, err := store.StringKeys(resetpropPrefix)
	if err != nil {
		return err
	}
	for _, n := range names {
		fmt.Println(n)
	}
	return nil
}
