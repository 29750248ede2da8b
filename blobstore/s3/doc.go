// Package s3 provides an Amazon S3 backed blobstore.Store.
//
// Uploads go through the SDK's managed uploader, which handles multipart
// uploads transparently for large snapshots. Listing uses the V2 paginator.
package s3
