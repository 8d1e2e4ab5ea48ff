package objectstore

import "encoding/xml"

// listBucketResult is the ListObjectsV2 REST+XML response body
// (spec.md §4.9 / §6's "REST+XML" wire shape).
type listBucketResult struct {
	XMLName               xml.Name       `xml:"ListBucketResult"`
	Name                  string         `xml:"Name"`
	Prefix                string         `xml:"Prefix"`
	Delimiter             string         `xml:"Delimiter,omitempty"`
	MaxKeys               int            `xml:"MaxKeys"`
	KeyCount              int            `xml:"KeyCount"`
	IsTruncated           bool           `xml:"IsTruncated"`
	ContinuationToken     string         `xml:"ContinuationToken,omitempty"`
	NextContinuationToken string         `xml:"NextContinuationToken,omitempty"`
	Contents              []s3Object     `xml:"Contents"`
	CommonPrefixes        []commonPrefix `xml:"CommonPrefixes"`
}

type s3Object struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

type commonPrefix struct {
	Prefix string `xml:"Prefix"`
}

type initiateMultipartUploadResult struct {
	XMLName  xml.Name `xml:"InitiateMultipartUploadResult"`
	Bucket   string   `xml:"Bucket"`
	Key      string   `xml:"Key"`
	UploadID string   `xml:"UploadId"`
}

type completeMultipartUploadRequest struct {
	XMLName xml.Name `xml:"CompleteMultipartUpload"`
	Parts   []struct {
		PartNumber int    `xml:"PartNumber"`
		ETag       string `xml:"ETag"`
	} `xml:"Part"`
}

type completeMultipartUploadResult struct {
	XMLName xml.Name `xml:"CompleteMultipartUploadResult"`
	Bucket  string   `xml:"Bucket"`
	Key     string   `xml:"Key"`
	ETag    string   `xml:"ETag"`
}

type listPartsResult struct {
	XMLName  xml.Name   `xml:"ListPartsResult"`
	Bucket   string     `xml:"Bucket"`
	Key      string     `xml:"Key"`
	UploadID string     `xml:"UploadId"`
	Parts    []partXML  `xml:"Part"`
}

type partXML struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
	Size       int64  `xml:"Size"`
}

type websiteConfigurationXML struct {
	XMLName           xml.Name `xml:"WebsiteConfiguration"`
	IndexDocument     struct {
		Suffix string `xml:"Suffix"`
	} `xml:"IndexDocument"`
	ErrorDocument struct {
		Key string `xml:"Key"`
	} `xml:"ErrorDocument"`
}

type notificationConfigurationXML struct {
	XMLName               xml.Name `xml:"NotificationConfiguration"`
	TopicConfigurations    []notificationTargetXML `xml:"TopicConfiguration"`
	QueueConfigurations    []notificationTargetXML `xml:"QueueConfiguration"`
	LambdaConfigurations   []notificationTargetXML `xml:"CloudFunctionConfiguration"`
}

type notificationTargetXML struct {
	ARN    string   `xml:"Arn"`
	Events []string `xml:"Event"`
}

func notificationFromXML(x notificationConfigurationXML) NotificationConfig {
	var cfg NotificationConfig
	for _, group := range [][]notificationTargetXML{x.TopicConfigurations, x.QueueConfigurations, x.LambdaConfigurations} {
		for _, t := range group {
			cfg.Targets = append(cfg.Targets, NotificationTarget{ARN: t.ARN, EventTypes: t.Events})
		}
	}
	return cfg
}
