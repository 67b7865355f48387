// Package dhus implements catalog.Client against a Copernicus Data Hub
// Service (DHuS) such as the Sentinel-5P pre-operations hub.
//
// Searches use the OpenSearch endpoint with JSON output and are paginated
// until the reported total is reached. Downloads go through the OData
// endpoint; each product's MD5 checksum is fetched first so that files already
// present with the right content are skipped, and freshly downloaded files
// are verified before they are moved into place.
package dhus
