package ffmpeg

import (
	"fmt"
	"slices"
	"strings"
)

// OptionType represents a strongly typed FFmpeg input option
type OptionType string

// FFmpeg option constants
const (
	OptionGeneratePTS        OptionType = "genpts"
	OptionIgnoreDTS          OptionType = "igndts"
	OptionIgnoreErrors       OptionType = "ignore_err"
	OptionWallclockTimestamp OptionType = "wallclock_ts"
	OptionThreadQueue1024    OptionType = "thread_queue_1024"
	OptionThreadQueue4096    OptionType = "thread_queue_4096"
	OptionLowLatency         OptionType = "low_latency"
)

// Base returns the ffmpeg command with standard flags
func Base() string {
	return "ffmpeg -hide_banner"
}

// OptionCategory represents option categories
type OptionCategory string

const (
	CategoryTiming      OptionCategory = "Timing"
	CategoryErrorHandle OptionCategory = "Error Handling"
	CategoryPerformance OptionCategory = "Performance"
)

// ExclusiveGroup represents a group of mutually exclusive options
type ExclusiveGroup string

const (
	GroupThreadQueue ExclusiveGroup = "thread_queue"
)

func group(g ExclusiveGroup) *ExclusiveGroup { return &g }

// Option represents an input feature flag with metadata
type Option struct {
	Key            OptionType      `json:"key"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	Category       OptionCategory  `json:"category"`
	AppDefault     bool            `json:"app_default"`
	ExclusiveGroup *ExclusiveGroup `json:"exclusive_group,omitempty"`
	ConflictsWith  []OptionType    `json:"conflicts_with,omitempty"`
}

// AllOptions lists the input flags that can be applied to camera and microphone inputs.
var AllOptions = []Option{
	{
		Key:           OptionGeneratePTS,
		Name:          "Generate PTS",
		Description:   "Generate presentation timestamps for cameras that send none",
		Category:      CategoryTiming,
		ConflictsWith: []OptionType{OptionWallclockTimestamp},
	},
	{
		Key:         OptionIgnoreDTS,
		Name:        "Ignore DTS",
		Description: "Ignore decode timestamps of corrupted MJPEG streams",
		Category:    CategoryErrorHandle,
	},
	{
		Key:         OptionIgnoreErrors,
		Name:        "Ignore Errors",
		Description: "Keep decoding camera frames despite stream errors",
		Category:    CategoryErrorHandle,
	},
	{
		Key:           OptionWallclockTimestamp,
		Name:          "Wallclock Timestamps",
		Description:   "Timestamp frames with the wall clock instead of the driver clock",
		Category:      CategoryTiming,
		ConflictsWith: []OptionType{OptionGeneratePTS},
	},
	{
		Key:            OptionThreadQueue1024,
		Name:           "Large Thread Queue",
		Description:    "Use a 1024 packet input queue so slow readers do not stall capture",
		Category:       CategoryPerformance,
		AppDefault:     true,
		ExclusiveGroup: group(GroupThreadQueue),
	},
	{
		Key:            OptionThreadQueue4096,
		Name:           "Extra Large Thread Queue",
		Description:    "Use a 4096 packet input queue for devices with bursty delivery",
		Category:       CategoryPerformance,
		ExclusiveGroup: group(GroupThreadQueue),
	},
	{
		Key:         OptionLowLatency,
		Name:        "Low Latency Mode",
		Description: "Flush packets immediately for the live preview",
		Category:    CategoryPerformance,
	},
}

// GetOptionByKey returns an option by its key
func GetOptionByKey(key OptionType) *Option {
	for i := range AllOptions {
		if AllOptions[i].Key == key {
			return &AllOptions[i]
		}
	}
	return nil
}

// ParseOptions converts option keys from configuration and validates them.
func ParseOptions(keys []string) ([]OptionType, error) {
	opts := make([]OptionType, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		opt := OptionType(k)
		if GetOptionByKey(opt) == nil {
			return nil, fmt.Errorf("unknown ffmpeg option %q", k)
		}
		if !slices.Contains(opts, opt) {
			opts = append(opts, opt)
		}
	}
	if err := ValidateOptions(opts); err != nil {
		return nil, err
	}
	return opts, nil
}

// ValidateOptions checks for conflicts and exclusive group violations
func ValidateOptions(selected []OptionType) error {
	exclusiveGroups := make(map[ExclusiveGroup][]string)
	selectedSet := make(map[OptionType]bool, len(selected))

	for _, key := range selected {
		selectedSet[key] = true
		if option := GetOptionByKey(key); option != nil && option.ExclusiveGroup != nil {
			exclusiveGroups[*option.ExclusiveGroup] = append(exclusiveGroups[*option.ExclusiveGroup], option.Name)
		}
	}

	for g, names := range exclusiveGroups {
		if len(names) > 1 {
			return fmt.Errorf("multiple options from exclusive group '%s' selected: %s", g, strings.Join(names, ", "))
		}
	}

	for _, key := range selected {
		option := GetOptionByKey(key)
		if option == nil {
			continue
		}
		for _, conflict := range option.ConflictsWith {
			if selectedSet[conflict] {
				name := string(conflict)
				if c := GetOptionByKey(conflict); c != nil {
					name = c.Name
				}
				return fmt.Errorf("option '%s' conflicts with '%s'", option.Name, name)
			}
		}
	}

	return nil
}

// DefaultOptions returns the options that are enabled by default in the application
func DefaultOptions() []OptionType {
	var defaults []OptionType
	for _, option := range AllOptions {
		if option.AppDefault {
			defaults = append(defaults, option.Key)
		}
	}
	return defaults
}

// applyInputOptions writes the flags for options that precede an -i.
func applyInputOptions(options []OptionType, cmd *strings.Builder) {
	var fflags []string

	for _, option := range options {
		switch option {
		case OptionGeneratePTS:
			fflags = append(fflags, "+genpts")
		case OptionIgnoreDTS:
			fflags = append(fflags, "+igndts")
		case OptionIgnoreErrors:
			cmd.WriteString(" -err_detect ignore_err")
		case OptionWallclockTimestamp:
			cmd.WriteString(" -use_wallclock_as_timestamps 1")
		case OptionThreadQueue1024:
			cmd.WriteString(" -thread_queue_size 1024")
		case OptionThreadQueue4096:
			cmd.WriteString(" -thread_queue_size 4096")
		case OptionLowLatency:
			fflags = append(fflags, "+nobuffer", "+flush_packets")
			cmd.WriteString(" -flags +low_delay")
		}
	}

	if len(fflags) > 0 {
		cmd.WriteString(" -fflags " + strings.Join(fflags, ""))
	}
}

// isHardwareEncoder checks if the given codec name represents a hardware encoder
func isHardwareEncoder(codec string) bool {
	for _, hw := range []string{"nvenc", "amf", "vaapi", "qsv", "videotoolbox", "rkmpp", "v4l2m2m"} {
		if strings.Contains(codec, hw) {
			return true
		}
	}
	return false
}
