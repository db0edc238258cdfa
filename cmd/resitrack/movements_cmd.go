package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"resitrack.org/internal/location"
	"resitrack.org/internal/movement"
	"resitrack.org/internal/permission"
	"resitrack.org/internal/resident"
)

type addFlags struct {
	identity       resident.Identity
	date, time     string
	origin         string
	destination    string
	sectionDepart  string
	sectionArrivee string
	stayEnd        string
	dryRun         bool
}

func newAddMovementCmd(a *app) *cobra.Command {
	var f addFlags
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Record an Entrée, Sortie or Transfert; the type follows from origin and destination",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.addMovement(cmd.Context(), cmd, f)
		},
	}
	now := time.Now()
	fl := cmd.Flags()
	fl.StringVar(&f.identity.Nom, "nom", "", "Last name")
	fl.StringVar(&f.identity.NomNaissance, "nom-naissance", "", "Birth name")
	fl.StringVar(&f.identity.Prenom, "prenom", "", "First name")
	fl.StringVar(&f.identity.Naissance, "naissance", "", "Birth date (YYYY-MM-DD)")
	fl.StringVar(&f.identity.Sex, "sex", "", "F or M")
	fl.StringVar(&f.date, "date", now.Format("2006-01-02"), "Movement date")
	fl.StringVar(&f.time, "time", now.Format("15:04"), "Movement time")
	fl.StringVar(&f.origin, "origin", "", "Room or facility of departure")
	fl.StringVar(&f.destination, "destination", "", "Room or facility of arrival")
	fl.StringVar(&f.sectionDepart, "section-depart", "", "Section of a Médecine departure room (Médecine or USLD)")
	fl.StringVar(&f.sectionArrivee, "section-arrivee", "", "Section of a Médecine arrival room (Médecine or USLD)")
	fl.StringVar(&f.stayEnd, "stay-end", "", "Planned end of stay (YYYY-MM-DD); empty means indeterminate")
	fl.BoolVar(&f.dryRun, "dry-run", false, "Validate and print the payload without submitting")
	_ = cmd.MarkFlagRequired("nom")
	_ = cmd.MarkFlagRequired("prenom")
	return cmd
}

func (a *app) addMovement(ctx context.Context, cmd *cobra.Command, f addFlags) error {
	s, err := a.session(ctx)
	if err != nil {
		return err
	}
	locs, err := a.client.Locations(ctx)
	if err != nil {
		return err
	}
	dir := location.NewDirectory(locs)

	eng := movement.NewEngine(dir, movement.WithSettleDelay(0))
	eng.SetOrigin(f.origin)
	eng.SetDestination(f.destination)
	st := eng.Settle()
	if st.Depart.RequiresSection && f.sectionDepart != "" {
		if err := eng.ChooseSection(movement.SideDepart, f.sectionDepart); err != nil {
			return err
		}
	}
	if st.Arrivee.RequiresSection && f.sectionArrivee != "" {
		if err := eng.ChooseSection(movement.SideArrivee, f.sectionArrivee); err != nil {
			return err
		}
	}

	form := movement.Form{
		Resident: f.identity,
		Date:     f.date,
		Time:     f.time,
		Stay:     movement.Stay{Mode: movement.StayIndeterminate},
	}.Apply(eng.State())
	if f.stayEnd != "" {
		form.Stay = movement.Stay{Mode: movement.StayFixed, EndDate: f.stayEnd}
	}
	if err := movement.Validate(form, s.Permissions); err != nil {
		var verr *movement.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("%s: %s", verr.Source, verr.Reason)
		}
		return err
	}

	m := form.Movement(s.Username)
	out := cmd.OutOrStdout()
	if f.dryRun {
		return writeJSON(out, m)
	}
	for _, lieu := range []string{m.LieuDepart, m.LieuArrivee} {
		if !dir.Classify(lieu).IsNovel() {
			continue
		}
		if _, err := a.client.CreateFacility(ctx, lieu); err != nil {
			return fmt.Errorf("create facility %q: %w", lieu, err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "lieu créé: %s\n", lieu)
	}
	created, err := a.client.CreateMovement(ctx, m)
	if err != nil {
		return err
	}
	return writeJSON(out, created)
}

func newCheckCmd(a *app, kind string) *cobra.Command {
	var unset bool
	cmd := &cobra.Command{
		Use:   "check <id>",
		Short: "Mark a " + kind + " as checked (or unchecked with --unset)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := a.session(ctx)
			if err != nil {
				return err
			}
			if err := s.Require(permission.CheckMovement); err != nil {
				return err
			}
			set := a.client.SetMovementChecked
			if kind == "death" {
				set = a.client.SetDeathChecked
			}
			if err := set(ctx, args[0], !unset); err != nil {
				return err
			}
			state := "checked"
			if unset {
				state = "unchecked"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s by %s\n", kind, args[0], state, s.Username)
			return nil
		},
	}
	cmd.Flags().BoolVar(&unset, "unset", false, "Clear the check mark")
	return cmd
}

func newArchiveCmd(a *app) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Archive movements older than the given number of days",
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return errors.New("--days must be >= 1")
			}
			ctx := cmd.Context()
			s, err := a.session(ctx)
			if err != nil {
				return err
			}
			if err := s.Require(permission.DeleteMovement); err != nil {
				return err
			}
			n, err := a.client.ArchiveMovements(ctx, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d movements archived\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 365, "Archive movements older than this many days")
	return cmd
}
