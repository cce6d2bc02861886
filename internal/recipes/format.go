package recipes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"barista/internal/models"
)

// fileDoc is the top level of a recipes file. Recipes stays a raw node so
// the key order of the file is kept.
type fileDoc struct {
	Recipes yaml.Node `yaml:"recipes"`
}

// rawRecipe is a recipe as written in the file
type rawRecipe struct {
	Name        string    `yaml:"name" json:"name" validate:"required"`
	Description string    `yaml:"description" json:"description"`
	Steps       []rawStep `yaml:"steps" json:"steps" validate:"dive"`
}

// rawStep accepts every step shape ever written: the current
// {drink, double, timeout} and {switchRuns, timeout}, and the legacy
// switch_counts, switches and switch keys.
type rawStep struct {
	Drink        string      `yaml:"drink,omitempty" validate:"omitempty,max=64"`
	Double       bool        `yaml:"double,omitempty"`
	Timeout      *int        `yaml:"timeout,omitempty" validate:"omitnil,min=10,max=3600"`
	SwitchRuns   switchRuns  `yaml:"switchRuns,omitempty" validate:"omitempty,dive"`
	SwitchCounts switchRuns  `yaml:"switch_counts,omitempty" validate:"omitempty,dive"`
	Switches     stringsList `yaml:"switches,omitempty"`
	Switch       string      `yaml:"switch,omitempty"`
}

// runEntry is one signal: count pair of a switchRuns mapping
type runEntry struct {
	Signal string `validate:"required"`
	Count  int    `validate:"gte=0"`
}

// switchRuns is an ordered signal -> count mapping
type switchRuns []runEntry

// UnmarshalYAML implements yaml.Unmarshaler keeping mapping order
func (s *switchRuns) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: switch runs must be a mapping of signal to count", value.Line)
	}
	out := make(switchRuns, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		key, val := value.Content[i], value.Content[i+1]
		var count int
		if val.Tag != "!!null" {
			if err := val.Decode(&count); err != nil {
				return fmt.Errorf("line %d: count of %q must be an integer", val.Line, key.Value)
			}
		}
		out = append(out, runEntry{Signal: key.Value, Count: count})
	}
	*s = out
	return nil
}

// MarshalYAML implements yaml.Marshaler writing an ordered mapping
func (s switchRuns) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, entry := range s {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: entry.Signal},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(entry.Count)},
		)
	}
	return node, nil
}

// stringsList accepts a single string or a list of strings
type stringsList []string

// UnmarshalYAML implements yaml.Unmarshaler
func (l *stringsList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Value == "" {
			*l = nil
			return nil
		}
		*l = stringsList{value.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	default:
		return fmt.Errorf("line %d: switches must be a string or a list", value.Line)
	}
}

// ErrAmbiguousStep is returned for a step that both makes a drink and drives switches
var ErrAmbiguousStep = errors.New("step has both a drink and switch actions")

var validate = validator.New()

// normalize validates a raw recipe and converts it to the model
func normalize(key string, raw rawRecipe) (models.Recipe, error) {
	if err := validate.Struct(raw); err != nil {
		return models.Recipe{}, describeValidation(err)
	}

	recipe := models.Recipe{
		Key:         key,
		Name:        raw.Name,
		Description: raw.Description,
		Steps:       make([]models.Step, 0, len(raw.Steps)),
	}
	for i, rs := range raw.Steps {
		step, err := rs.toStep()
		if err != nil {
			return models.Recipe{}, fmt.Errorf("step %d: %w", i+1, err)
		}
		recipe.Steps = append(recipe.Steps, step)
	}
	return recipe, nil
}

func (rs rawStep) toStep() (models.Step, error) {
	timeout := models.DefaultStepTimeout
	if rs.Timeout != nil {
		timeout = time.Duration(*rs.Timeout) * time.Second
	}

	runs := rs.runs()
	drink := strings.TrimSpace(rs.Drink)
	switch {
	case drink != "" && len(runs) > 0:
		return models.Step{}, ErrAmbiguousStep
	case drink != "":
		return models.NewDrinkStep(drink, rs.Double, timeout), nil
	default:
		// runs with a non-positive count are dropped here; none left is a no-op step
		return models.NewSwitchStep(runs, timeout), nil
	}
}

// runs resolves the switch shapes, newest first
func (rs rawStep) runs() []models.SwitchRun {
	var out []models.SwitchRun
	switch {
	case len(rs.SwitchRuns) > 0:
		for _, e := range rs.SwitchRuns {
			out = append(out, models.SwitchRun{Signal: e.Signal, Count: e.Count})
		}
	case len(rs.SwitchCounts) > 0:
		for _, e := range rs.SwitchCounts {
			out = append(out, models.SwitchRun{Signal: e.Signal, Count: e.Count})
		}
	case len(rs.Switches) > 0:
		for _, id := range rs.Switches {
			out = append(out, models.SwitchRun{Signal: id, Count: 1})
		}
	case rs.Switch != "":
		out = append(out, models.SwitchRun{Signal: rs.Switch, Count: 1})
	}
	return out
}

// fromRecipe converts a model recipe to the current file shape
func fromRecipe(recipe models.Recipe) rawRecipe {
	raw := rawRecipe{
		Name:        recipe.Name,
		Description: recipe.Description,
		Steps:       make([]rawStep, 0, len(recipe.Steps)),
	}
	for _, step := range recipe.Steps {
		seconds := int(step.EffectiveTimeout() / time.Second)
		rs := rawStep{Timeout: &seconds}
		switch {
		case step.Kind == models.StepKindDrink && step.Drink != nil:
			rs.Drink = step.Drink.Drink
			rs.Double = step.Drink.Double
		case step.Kind == models.StepKindSwitch && step.Switch != nil:
			for _, run := range step.Switch.Runs {
				rs.SwitchRuns = append(rs.SwitchRuns, runEntry{Signal: run.Signal, Count: run.Count})
			}
		}
		raw.Steps = append(raw.Steps, rs)
	}
	return raw
}

func describeValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "rawRecipe.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", field))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("invalid recipe: %s", strings.Join(msgs, "; "))
}

// Summary renders the steps of a recipe on one line, e.g. "Espresso x2, Americano"
func Summary(recipe models.Recipe) string {
	parts := make([]string, 0, len(recipe.Steps))
	for _, step := range recipe.Steps {
		switch {
		case step.Kind == models.StepKindDrink && step.Drink != nil:
			if step.Drink.Double {
				parts = append(parts, step.Drink.Drink+" x2")
			} else {
				parts = append(parts, step.Drink.Drink)
			}
		case step.Kind == models.StepKindSwitch && step.Switch != nil:
			for _, run := range step.Switch.Runs {
				if run.Count > 1 {
					parts = append(parts, fmt.Sprintf("%s x%d", run.Signal, run.Count))
				} else {
					parts = append(parts, run.Signal)
				}
			}
		}
	}
	return strings.Join(parts, ", ")
}
