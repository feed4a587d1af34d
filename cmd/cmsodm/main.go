// Command cmsodm inspects and edits the documents of a CMS database through
// its models.
package main

func main() {
	Execute()
}
