// Command randimg serves random qualifying images scraped live from web pages.
package main

import "github.com/JakeFAU/randimg/cmd"

func main() {
	cmd.Execute()
}
