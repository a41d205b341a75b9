package dataset

// Record types mirror the nuScenes table schema. Quaternions are [w, x, y, z],
// translations and sizes are metres, timestamps are microseconds.

type Sensor struct {
	Token    string `json:"token"`
	Channel  string `json:"channel"`
	Modality string `json:"modality"`
}

type CalibratedSensor struct {
	Token           string      `json:"token"`
	SensorToken     string      `json:"sensor_token"`
	Translation     [3]float64  `json:"translation"`
	Rotation        [4]float64  `json:"rotation"`
	CameraIntrinsic [][]float64 `json:"camera_intrinsic"`
}

type EgoPose struct {
	Token       string     `json:"token"`
	Timestamp   int64      `json:"timestamp"`
	Rotation    [4]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

type Log struct {
	Token        string `json:"token"`
	Logfile      string `json:"logfile"`
	Vehicle      string `json:"vehicle"`
	DateCaptured string `json:"date_captured"`
	TimeCaptured string `json:"time_captured"`
	Timezone     string `json:"timezone"`
	Location     string `json:"location"`
	MapToken     string `json:"map_token"`
}

type Map struct {
	Token     string   `json:"token"`
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	Filename  string   `json:"filename"`
	LogTokens []string `json:"log_tokens"`
}

type Scene struct {
	Token            string `json:"token"`
	LogToken         string `json:"log_token"`
	NbrSamples       int    `json:"nbr_samples"`
	FirstSampleToken string `json:"first_sample_token"`
	LastSampleToken  string `json:"last_sample_token"`
	Name             string `json:"name"`
	Description      string `json:"description"`
}

type Sample struct {
	Token      string `json:"token"`
	Timestamp  int64  `json:"timestamp"`
	SceneToken string `json:"scene_token"`
	Prev       string `json:"prev"`
	Next       string `json:"next"`
}

type SampleData struct {
	Token                 string `json:"token"`
	SampleToken           string `json:"sample_token"`
	EgoPoseToken          string `json:"ego_pose_token"`
	CalibratedSensorToken string `json:"calibrated_sensor_token"`
	Timestamp             int64  `json:"timestamp"`
	Fileformat            string `json:"fileformat"`
	IsKeyFrame            bool   `json:"is_key_frame"`
	Height                int    `json:"height"`
	Width                 int    `json:"width"`
	Filename              string `json:"filename"`
	Prev                  string `json:"prev"`
	Next                  string `json:"next"`
}

type SampleAnnotation struct {
	Token           string     `json:"token"`
	SampleToken     string     `json:"sample_token"`
	InstanceToken   string     `json:"instance_token"`
	VisibilityToken string     `json:"visibility_token"`
	AttributeTokens []string   `json:"attribute_tokens"`
	Translation     [3]float64 `json:"translation"`
	Size            [3]float64 `json:"size"`
	Rotation        [4]float64 `json:"rotation"`
	Prev            string     `json:"prev"`
	Next            string     `json:"next"`
	NumLidarPts     int        `json:"num_lidar_pts"`
	NumRadarPts     int        `json:"num_radar_pts"`
}

type Instance struct {
	Token                string `json:"token"`
	CategoryToken        string `json:"category_token"`
	NbrAnnotations       int    `json:"nbr_annotations"`
	FirstAnnotationToken string `json:"first_annotation_token"`
	LastAnnotationToken  string `json:"last_annotation_token"`
}

type Category struct {
	Token       string `json:"token"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Attribute struct {
	Token       string `json:"token"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Visibility struct {
	Token       string `json:"token"`
	Level       string `json:"level"`
	Description string `json:"description"`
}
