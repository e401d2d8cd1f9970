package metrics

// TaskDurationBuckets covers task execution durations from sub-second leaf
// work up to hour-long parent orchestrations.
var TaskDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 900, 3600}
