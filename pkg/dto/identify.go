package dto

type PredictionResponse struct {
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
}

type FaceResponse struct {
	Face        BBox                 `json:"face"`
	Label       string               `json:"label"`
	Distance    float64              `json:"distance"`
	Known       bool                 `json:"known"`
	Display     string               `json:"display"`
	Predictions []PredictionResponse `json:"predictions"`
}

type IdentifyResponse struct {
	Faces []FaceResponse `json:"faces"`
	Count int            `json:"count"`
}

type LabelCount struct {
	Label   string `json:"label"`
	Samples int    `json:"samples"`
}

type GalleryResponse struct {
	Provider          string       `json:"provider"`
	Dim               int          `json:"dim"`
	Source            string       `json:"source"`
	Entries           int          `json:"entries"`
	Labels            []LabelCount `json:"labels"`
	Metric            string       `json:"metric"`
	DistanceThreshold float64      `json:"distance_threshold"`
	TopK              int          `json:"top_k"`
}
