package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"presence/internal/course"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("✓ Schema up to date (%s)\n", cfg.DBDriver)
		return nil
	},
}

// demoRoster is seeded when no file is given: one Seoul classroom with a
// Monday morning slot and three students.
const demoRoster = `
professor: {name: Demo Professor, email: professor@example.edu}
students:
  - {name: Alice, email: alice@example.edu}
  - {name: Bob, email: bob@example.edu}
  - {name: Chloe, email: chloe@example.edu}
course:
  code: DEMO101
  name: Demo Course
  latitude: 37.5665
  longitude: 126.9780
  radius_meters: 50
  slots:
    - {day_of_week: 0, start: "09:00", end: "10:30"}
`

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load a course roster into the database",
	Long: `Load a professor, a course with its weekly slots and the enrolled
students from a YAML roster. Without -f a demo roster is loaded.

Examples:
  # Seed the demo course
  attendctl seed

  # Seed from a roster file and migrate first
  attendctl seed -f cs101.yaml --migrate`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		migrate, _ := cmd.Flags().GetBool("migrate")

		var src io.Reader = strings.NewReader(demoRoster)
		if file != "" {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to read roster: %w", err)
			}
			defer f.Close()
			src = f
		}
		roster, err := course.LoadRoster(src)
		if err != nil {
			return err
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if migrate {
			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
		}

		repo := course.NewRepo(db)
		seeded, err := roster.Apply(cmd.Context(), repo, time.Now())
		if err != nil {
			return err
		}
		students, err := repo.Enrolled(cmd.Context(), seeded.CourseID)
		if err != nil {
			return err
		}

		fmt.Println("✓ Roster seeded")
		fmt.Printf("  Course:    %s (%s)\n", seeded.CourseID, roster.Course.Code)
		fmt.Printf("  Professor: %s\n", seeded.ProfessorID)
		for _, s := range students {
			fmt.Printf("  Student:   %s (%s)\n", s.ID, s.Name)
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().StringP("file", "f", "", "YAML roster to load (default: demo roster)")
	seedCmd.Flags().Bool("migrate", false, "Apply the schema before seeding")
}
