package trigger

import "fmt"

// Kind describes one family of processing jobs and the API resources that
// start and schedule it.
type Kind struct {
	Name             string
	Noun             string
	StartResource    string
	ScheduleResource string
	RuleName         string
	TargetID         string
	ParamsKey        string
	JobPrefix        string
	Entrypoint       []string
	StartedMessage   string
}

// Training starts model training jobs.
var Training = Kind{
	Name:             "training",
	Noun:             "training",
	StartResource:    "/start_training",
	ScheduleResource: "/training_schedule",
	RuleName:         "TrainingSchedule",
	TargetID:         "TrainingScheduleTarget",
	ParamsKey:        "config/training_schedule.json",
	JobPrefix:        "model-training",
	Entrypoint:       []string{"python3", "training/train.py"},
	StartedMessage:   "Training successfully started!",
}

// Inference starts batch inference jobs.
var Inference = Kind{
	Name:             "inference",
	Noun:             "batch inference",
	StartResource:    "/start_batch_inference",
	ScheduleResource: "/inference_schedule",
	RuleName:         "InferenceSchedule",
	TargetID:         "InferenceScheduleTarget",
	ParamsKey:        "config/inference_schedule.json",
	JobPrefix:        "batch-inference",
	Entrypoint:       []string{"python3", "inference/inference.py"},
	StartedMessage:   "Batch inference successfully started!",
}

// KindByName returns Training or Inference.
func KindByName(name string) (Kind, error) {
	switch name {
	case Training.Name:
		return Training, nil
	case Inference.Name:
		return Inference, nil
	}
	return Kind{}, fmt.Errorf("unknown job kind %q (want training or inference)", name)
}
