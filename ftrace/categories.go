package ftrace

// categoryEvents maps an atrace category name to the ftrace "group/name"
// events it expands to, per spec.md §4.2 step 6 ("predefined category
// expansions") and SPEC_FULL §12.2.
//
// Trimmed from predefined_tracepoints.cc's much larger per-SoC event lists
// to the categories this module's test scenarios and static event table
// (translation.go) actually exercise; a production deployment would extend
// this table freely without touching any other component.
var categoryEvents = map[string][]string{
	"sched": {
		"sched/sched_switch",
		"sched/sched_waking",
		"sched/sched_process_exit",
		"sched/sched_process_free",
	},
	"freq": {
		"power/cpu_frequency",
		"power/cpu_idle",
	},
	"idle": {
		"power/cpu_idle",
	},
	"membus": {
		"kmem/rss_stat",
	},
	"disk": {
		"block/block_rq_issue",
	},
	"workq": {},
}

// EventsForCategories expands a set of atrace category names into the
// ftrace "group/name" selectors they imply, deduplicated.
func EventsForCategories(categories []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range categories {
		for _, ev := range categoryEvents[c] {
			if !seen[ev] {
				seen[ev] = true
				out = append(out, ev)
			}
		}
	}
	return out
}
