package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mouser/pkg/domain"
)

type createFlags struct {
	name          string
	species       string
	investigators []string
	rfid          bool
	animals       string
	groups        string
	perCage       string
	groupNames    []string
	items         []string
	collection    []string
	password      string
}

func newExperimentCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "experiment",
		Aliases: []string{"exp"},
		Short:   "Create, inspect and catalogue experiment files",
	}
	cmd.AddCommand(newCreateCmd(a), newListCmd(a), newShowCmd(a), newForgetCmd(a),
		newArchivesCmd(a), newRestoreCmd(a))
	return cmd
}

func newCreateCmd(a *app) *cobra.Command {
	var f createFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Save a new experiment file",
		Long: `Save a new experiment file into the data directory.

Examples:
  mouser experiment create --name Trial --animals 12 --groups 3 --per-cage 4 \
    --group Control --group Low --group High --item Weight --collection manual
  MOUSER_PASSWORD=secret mouser experiment create --name Blind --animals 8 --groups 2 --per-cage 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			exp := domain.NewExperiment()
			exp.SetName(f.name)
			exp.SetSpecies(f.species)
			exp.SetInvestigators(f.investigators)
			exp.SetUsesRFID(f.rfid)
			exp.SetNumAnimals(f.animals)
			exp.SetNumGroups(f.groups)
			exp.SetMaxAnimals(f.perCage)
			exp.SetGroupNames(f.groupNames)
			exp.SetMeasurementItems(toItems(f.items))
			exp.SetCollectionTypes(toCollectionTypes(f.collection))
			exp.SetPassword(passwordOrEnv(f.password))

			res, err := a.svc.SaveExperiment(cmd.Context(), exp)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %s (id %s)\n", res.Path, exp.ID())
			if res.Entry.ArchiveKey != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "archived as %s\n", res.Entry.ArchiveKey)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.name, "name", "", "experiment name, also the file name (no path separators)")
	fl.StringVar(&f.species, "species", "", "species under study")
	fl.StringSliceVar(&f.investigators, "investigator", nil, "investigator name (repeatable)")
	fl.BoolVar(&f.rfid, "rfid", false, "animals carry RFID tags")
	fl.StringVar(&f.animals, "animals", "0", "number of animals")
	fl.StringVar(&f.groups, "groups", "1", "number of groups")
	fl.StringVar(&f.perCage, "per-cage", "1", "maximum animals per cage")
	fl.StringSliceVar(&f.groupNames, "group", nil, "group name (repeatable)")
	fl.StringSliceVar(&f.items, "item", nil, "measurement item (repeatable)")
	fl.StringSliceVar(&f.collection, "collection", nil, "collection type per item (repeatable)")
	fl.StringVar(&f.password, "password", "", "encrypt the file with this password (default $"+PasswordEnv+")")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogued experiments, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			entries, err := a.svc.ListExperiments(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no experiments")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSPECIES\tENCRYPTED\tSAVED\tPATH")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%s\n", e.ID, e.Name, e.Species, e.Encrypted, e.SavedAt.Format(time.RFC3339), e.Path)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func newShowCmd(a *app) *cobra.Command {
	var pw, id string
	cmd := &cobra.Command{
		Use:   "show [path]",
		Short: "Print the configuration stored in an experiment file",
		Long: `Print the configuration stored in an experiment file, given either its
path or, with --id, a catalogued experiment id.

Examples:
  mouser experiment show ./data/Trial.mouser
  mouser experiment show --id 6f1c2a0e-5d2b-11ef-8c5e-0242ac120002`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			switch {
			case id != "" && len(args) > 0:
				return errors.New("give a path or --id, not both")
			case id != "":
				entry, err := a.svc.GetExperiment(cmd.Context(), id)
				if err != nil {
					return err
				}
				path = entry.Path
			case len(args) == 1:
				path = args[0]
			default:
				return errors.New("show needs a path or --id")
			}
			summary, err := a.svc.OpenExperiment(cmd.Context(), path, passwordOrEnv(pw))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&pw, "password", "", "password for encrypted files (default $"+PasswordEnv+")")
	cmd.Flags().StringVar(&id, "id", "", "look the file up in the catalog by experiment id")
	return cmd
}

func newForgetCmd(a *app) *cobra.Command {
	var purge bool
	cmd := &cobra.Command{
		Use:   "forget <id>",
		Short: "Remove an experiment from the catalog; the file is kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.ForgetExperiment(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", args[0])
			if !purge {
				return nil
			}
			n, err := a.svc.PurgeArchives(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d archived versions\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&purge, "purge", false, "also delete the archived versions")
	return cmd
}

func newArchivesCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "archives <id>",
		Short: "List the archived versions of an experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := a.svc.ListArchives(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), infos)
			}
			if len(infos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no archived versions")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSIZE\tENCRYPTED\tMODIFIED")
			for _, info := range infos {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", info.Key, info.Size, info.Metadata["encrypted"], info.LastModified.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print versions as JSON")
	return cmd
}

func newRestoreCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "restore <key>",
		Short: "Copy an archived version back to disk",
		Long: `Copy an archived version back to disk. Existing files are never replaced.

Examples:
  mouser experiment archives <id>
  mouser experiment restore experiments/<id>/20240501T080000Z/Trial.mouser --to ./restored`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.svc.DataDir()
			}
			path, err := a.svc.RestoreArchive(cmd.Context(), args[0], dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "to", "", "directory to restore into (default the data directory)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func passwordOrEnv(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(PasswordEnv)
}

func toItems(in []string) []domain.MeasurementItem {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.MeasurementItem, len(in))
	for i, s := range in {
		out[i] = domain.MeasurementItem(s)
	}
	return out
}

func toCollectionTypes(in []string) []domain.CollectionType {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.CollectionType, len(in))
	for i, s := range in {
		out[i] = domain.CollectionType(s)
	}
	return out
}
