package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tuskdata/tusk/pkg/types"
	"gopkg.in/yaml.v3"
)

const manifestAPIVersion = "tusk/v1"

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Submit jobs from a manifest file",
	Long: `Submit every Job in a YAML manifest. A file may hold several documents
separated by "---".

Example manifest:
  apiVersion: tusk/v1
  kind: Job
  metadata:
    name: daily-revenue
  spec:
    datasource: sales
    principal: reporting
    query: |
      SELECT region, sum(amount) FROM orders GROUP BY region

Examples:
  tusk apply -f reports.yaml
  tusk apply -f reports.yaml --wait`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply, - for stdin (required)")
	applyCmd.Flags().Bool("wait", false, "Wait for every job to finish")
	_ = applyCmd.MarkFlagRequired("file")
	addSchedulerFlag(applyCmd)

	rootCmd.AddCommand(applyCmd)
}

// JobManifest is a job described in YAML
type JobManifest struct {
	APIVersion string           `yaml:"apiVersion"`
	Kind       string           `yaml:"kind"`
	Metadata   ResourceMetadata `yaml:"metadata"`
	Spec       JobManifestSpec  `yaml:"spec"`
}

type ResourceMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type JobManifestSpec struct {
	Query      string            `yaml:"query"`
	Datasource string            `yaml:"datasource,omitempty"`
	Params     map[string]string `yaml:"params,omitempty"`
	Principal  string            `yaml:"principal,omitempty"`
}

// QuerySpec converts the manifest into the submitted query
func (m *JobManifest) QuerySpec() types.QuerySpec {
	return types.QuerySpec{
		Text:       m.Spec.Query,
		Datasource: m.Spec.Datasource,
		Params:     m.Spec.Params,
	}
}

// parseManifests decodes every document in r. Empty documents are skipped.
func parseManifests(r io.Reader) ([]*JobManifest, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var manifests []*JobManifest
	for i := 1; ; i++ {
		var m JobManifest
		err := dec.Decode(&m)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("document %d: failed to parse YAML: %w", i, err)
		}
		if m.Kind == "" && m.APIVersion == "" {
			continue
		}
		if err := m.validate(); err != nil {
			return nil, fmt.Errorf("document %d: %w", i, err)
		}
		manifests = append(manifests, &m)
	}
	if len(manifests) == 0 {
		return nil, fmt.Errorf("no jobs found: %w", types.ErrValidation)
	}
	return manifests, nil
}

func (m *JobManifest) validate() error {
	if m.APIVersion != manifestAPIVersion {
		return fmt.Errorf("unsupported apiVersion %q (want %s): %w", m.APIVersion, manifestAPIVersion, types.ErrValidation)
	}
	if m.Kind != "Job" {
		return fmt.Errorf("unsupported resource kind: %s: %w", m.Kind, types.ErrValidation)
	}
	if strings.TrimSpace(m.Spec.Query) == "" {
		return fmt.Errorf("job %q has no query: %w", m.Metadata.Name, types.ErrValidation)
	}
	return nil
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	wait, _ := cmd.Flags().GetBool("wait")

	var in io.Reader = os.Stdin
	if filename != "-" {
		f, err := os.Open(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
		defer f.Close()
		in = f
	}

	manifests, err := parseManifests(in)
	if err != nil {
		return err
	}

	c, err := newClient(cmd)
	if err != nil {
		return err
	}
	defer c.Close()

	submitted := make([]*types.Job, 0, len(manifests))
	for _, m := range manifests {
		job, err := c.SubmitJob(cmd.Context(), m.QuerySpec(), m.Spec.Principal)
		if err != nil {
			return fmt.Errorf("failed to submit %q: %w", m.Metadata.Name, err)
		}
		submitted = append(submitted, job)
		fmt.Printf("✓ %s submitted as %s\n", displayName(m), job.ID)
	}

	if !wait {
		return nil
	}

	var errs []error
	for i, job := range submitted {
		final, err := waitForJob(cmd.Context(), c, job.ID, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := finalStatus(final); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", displayName(manifests[i]), err))
		}
	}
	return errors.Join(errs...)
}

func displayName(m *JobManifest) string {
	if m.Metadata.Name != "" {
		return m.Metadata.Name
	}
	return "job"
}
