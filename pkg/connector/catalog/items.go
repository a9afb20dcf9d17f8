package catalog

// Built-in catalogs for the supported demo platforms. Prices are INR,
// delivery ETAs are minutes. Aliases carry the Hinglish names shoppers
// actually type so intent-extracted items match without translation.
var builtinCatalogs = map[string][]Item{
	"zepto": {
		{ExternalID: "zep-milk-500", Title: "Amul Taaza Toned Milk 500ml", Aliases: []string{"milk", "doodh", "dudh"}, UnitPrice: 28, DeliveryETA: 12, Rating: 4.5, Stock: 40},
		{ExternalID: "zep-bread-400", Title: "Harvest Gold White Bread 400g", Aliases: []string{"bread", "double roti"}, UnitPrice: 45, DeliveryETA: 12, Rating: 4.2, Stock: 25},
		{ExternalID: "zep-eggs-6", Title: "Farm Fresh White Eggs 6pc", Aliases: []string{"eggs", "egg", "anda", "ande"}, UnitPrice: 54, DeliveryETA: 12, Rating: 4.4, Stock: 30},
		{ExternalID: "zep-rice-1kg", Title: "India Gate Basmati Rice 1kg", Aliases: []string{"rice", "chawal", "basmati"}, UnitPrice: 145, DeliveryETA: 15, Rating: 4.6, Stock: 18},
		{ExternalID: "zep-toor-1kg", Title: "Tata Sampann Toor Dal 1kg", Aliases: []string{"dal", "daal", "toor dal", "arhar"}, UnitPrice: 189, DeliveryETA: 15, Rating: 4.5, Stock: 20},
		{ExternalID: "zep-atta-5kg", Title: "Aashirvaad Whole Wheat Atta 5kg", Aliases: []string{"atta", "flour", "wheat flour"}, UnitPrice: 262, DeliveryETA: 18, Rating: 4.7, Stock: 15},
		{ExternalID: "zep-oil-1l", Title: "Fortune Sunflower Oil 1L", Aliases: []string{"oil", "tel", "cooking oil"}, UnitPrice: 152, DeliveryETA: 15, Rating: 4.3, Stock: 22},
		{ExternalID: "zep-sugar-1kg", Title: "Madhur Pure Sugar 1kg", Aliases: []string{"sugar", "chini", "cheeni"}, UnitPrice: 48, DeliveryETA: 12, Rating: 4.4, Stock: 35},
		{ExternalID: "zep-salt-1kg", Title: "Tata Salt 1kg", Aliases: []string{"salt", "namak"}, UnitPrice: 27, DeliveryETA: 12, Rating: 4.6, Stock: 50},
		{ExternalID: "zep-onion-1kg", Title: "Fresh Onion 1kg", Aliases: []string{"onion", "pyaz", "pyaaz"}, UnitPrice: 38, DeliveryETA: 10, Rating: 4.1, Stock: 45},
		{ExternalID: "zep-potato-1kg", Title: "Fresh Potato 1kg", Aliases: []string{"potato", "aloo", "alu"}, UnitPrice: 32, DeliveryETA: 10, Rating: 4.0, Stock: 45},
		{ExternalID: "zep-tomato-1kg", Title: "Fresh Tomato 1kg", Aliases: []string{"tomato", "tamatar"}, UnitPrice: 42, DeliveryETA: 10, Rating: 3.9, Stock: 40},
		{ExternalID: "zep-paneer-200", Title: "Amul Malai Paneer 200g", Aliases: []string{"paneer"}, UnitPrice: 95, DeliveryETA: 14, Rating: 4.5, Stock: 12},
		{ExternalID: "zep-curd-400", Title: "Mother Dairy Classic Curd 400g", Aliases: []string{"curd", "dahi", "yogurt"}, UnitPrice: 35, DeliveryETA: 12, Rating: 4.4, Stock: 28},
		{ExternalID: "zep-ghee-500", Title: "Amul Pure Ghee 500ml", Aliases: []string{"ghee"}, UnitPrice: 325, DeliveryETA: 15, Rating: 4.8, Stock: 10},
		{ExternalID: "zep-chai-250", Title: "Taj Mahal Tea 250g", Aliases: []string{"tea", "chai", "chai patti"}, UnitPrice: 165, DeliveryETA: 14, Rating: 4.5, Stock: 16},
		{ExternalID: "zep-maggi-560", Title: "Maggi 2-Minute Noodles 8-pack", Aliases: []string{"maggi", "noodles"}, UnitPrice: 112, DeliveryETA: 12, Rating: 4.6, Stock: 30},
		{ExternalID: "zep-lays-90", Title: "Lay's India's Magic Masala 90g", Aliases: []string{"lays", "chips"}, UnitPrice: 50, DeliveryETA: 10, Rating: 4.3, Stock: 38},
		{ExternalID: "zep-slice-600", Title: "Slice Mango Drink 600ml", Aliases: []string{"slice", "mango drink", "slice mango"}, UnitPrice: 40, DeliveryETA: 10, Rating: 4.2, Stock: 26},
		{ExternalID: "zep-dairymilk-110", Title: "Cadbury Dairy Milk Silk 110g", Aliases: []string{"cadbury", "dairy milk", "chocolate"}, UnitPrice: 105, DeliveryETA: 10, Rating: 4.7, Stock: 20},
	},

	"blinkit": {
		{ExternalID: "blk-milk-500", Title: "Mother Dairy Toned Milk 500ml", Aliases: []string{"milk", "doodh", "dudh"}, UnitPrice: 27, DeliveryETA: 16, Rating: 4.4, Stock: 35},
		{ExternalID: "blk-bread-400", Title: "Britannia White Bread 400g", Aliases: []string{"bread", "double roti"}, UnitPrice: 42, DeliveryETA: 16, Rating: 4.1, Stock: 28},
		{ExternalID: "blk-eggs-6", Title: "Table White Eggs 6pc", Aliases: []string{"eggs", "egg", "anda", "ande"}, UnitPrice: 52, DeliveryETA: 16, Rating: 4.3, Stock: 32},
		{ExternalID: "blk-rice-1kg", Title: "Daawat Rozana Basmati Rice 1kg", Aliases: []string{"rice", "chawal", "basmati"}, UnitPrice: 132, DeliveryETA: 20, Rating: 4.4, Stock: 20},
		{ExternalID: "blk-toor-1kg", Title: "Fortune Toor Dal 1kg", Aliases: []string{"dal", "daal", "toor dal", "arhar"}, UnitPrice: 175, DeliveryETA: 20, Rating: 4.3, Stock: 24},
		{ExternalID: "blk-atta-5kg", Title: "Fortune Chakki Fresh Atta 5kg", Aliases: []string{"atta", "flour", "wheat flour"}, UnitPrice: 248, DeliveryETA: 22, Rating: 4.5, Stock: 14},
		{ExternalID: "blk-oil-1l", Title: "Saffola Gold Oil 1L", Aliases: []string{"oil", "tel", "cooking oil"}, UnitPrice: 169, DeliveryETA: 20, Rating: 4.4, Stock: 18},
		{ExternalID: "blk-sugar-1kg", Title: "Dhampure Sugar 1kg", Aliases: []string{"sugar", "chini", "cheeni"}, UnitPrice: 46, DeliveryETA: 16, Rating: 4.2, Stock: 40},
		{ExternalID: "blk-salt-1kg", Title: "Aashirvaad Salt 1kg", Aliases: []string{"salt", "namak"}, UnitPrice: 25, DeliveryETA: 16, Rating: 4.5, Stock: 55},
		{ExternalID: "blk-onion-1kg", Title: "Onion 1kg", Aliases: []string{"onion", "pyaz", "pyaaz"}, UnitPrice: 35, DeliveryETA: 14, Rating: 4.0, Stock: 50},
		{ExternalID: "blk-potato-1kg", Title: "Potato 1kg", Aliases: []string{"potato", "aloo", "alu"}, UnitPrice: 30, DeliveryETA: 14, Rating: 4.0, Stock: 48},
		{ExternalID: "blk-tomato-1kg", Title: "Tomato Hybrid 1kg", Aliases: []string{"tomato", "tamatar"}, UnitPrice: 39, DeliveryETA: 14, Rating: 3.8, Stock: 42},
		{ExternalID: "blk-paneer-200", Title: "Mother Dairy Paneer 200g", Aliases: []string{"paneer"}, UnitPrice: 89, DeliveryETA: 18, Rating: 4.4, Stock: 14},
		{ExternalID: "blk-curd-400", Title: "Amul Masti Dahi 400g", Aliases: []string{"curd", "dahi", "yogurt"}, UnitPrice: 33, DeliveryETA: 16, Rating: 4.3, Stock: 30},
		{ExternalID: "blk-ghee-500", Title: "Patanjali Cow Ghee 500ml", Aliases: []string{"ghee"}, UnitPrice: 310, DeliveryETA: 20, Rating: 4.5, Stock: 11},
		{ExternalID: "blk-chai-250", Title: "Red Label Tea 250g", Aliases: []string{"tea", "chai", "chai patti"}, UnitPrice: 148, DeliveryETA: 18, Rating: 4.4, Stock: 19},
		{ExternalID: "blk-maggi-560", Title: "Maggi 2-Minute Noodles 8-pack", Aliases: []string{"maggi", "noodles"}, UnitPrice: 108, DeliveryETA: 16, Rating: 4.6, Stock: 34},
		{ExternalID: "blk-kurkure-90", Title: "Kurkure Masala Munch 90g", Aliases: []string{"kurkure", "chips"}, UnitPrice: 30, DeliveryETA: 14, Rating: 4.2, Stock: 44},
		{ExternalID: "blk-slice-600", Title: "Slice Mango Drink 600ml", Aliases: []string{"slice", "mango drink", "slice mango"}, UnitPrice: 38, DeliveryETA: 14, Rating: 4.2, Stock: 24},
		{ExternalID: "blk-dairymilk-110", Title: "Cadbury Dairy Milk Silk 110g", Aliases: []string{"cadbury", "dairy milk", "chocolate"}, UnitPrice: 102, DeliveryETA: 14, Rating: 4.7, Stock: 22},
	},

	// Marketplace platforms: cheaper, slower.
	"amazon": {
		{ExternalID: "amz-rice-5kg", Title: "India Gate Basmati Rice 5kg", Aliases: []string{"rice", "chawal", "basmati"}, UnitPrice: 612, DeliveryETA: 1440, Rating: 4.5, Stock: 60},
		{ExternalID: "amz-toor-2kg", Title: "Tata Sampann Toor Dal 2kg", Aliases: []string{"dal", "daal", "toor dal", "arhar"}, UnitPrice: 342, DeliveryETA: 1440, Rating: 4.4, Stock: 50},
		{ExternalID: "amz-atta-10kg", Title: "Aashirvaad Atta 10kg", Aliases: []string{"atta", "flour", "wheat flour"}, UnitPrice: 486, DeliveryETA: 1440, Rating: 4.6, Stock: 40},
		{ExternalID: "amz-oil-5l", Title: "Fortune Sunflower Oil 5L", Aliases: []string{"oil", "tel", "cooking oil"}, UnitPrice: 698, DeliveryETA: 1440, Rating: 4.3, Stock: 35},
		{ExternalID: "amz-ghee-1l", Title: "Amul Pure Ghee 1L", Aliases: []string{"ghee"}, UnitPrice: 615, DeliveryETA: 1440, Rating: 4.7, Stock: 30},
		{ExternalID: "amz-chai-500", Title: "Taj Mahal Tea 500g", Aliases: []string{"tea", "chai", "chai patti"}, UnitPrice: 305, DeliveryETA: 1440, Rating: 4.5, Stock: 45},
		{ExternalID: "amz-sugar-5kg", Title: "Madhur Sugar 5kg", Aliases: []string{"sugar", "chini", "cheeni"}, UnitPrice: 228, DeliveryETA: 1440, Rating: 4.3, Stock: 55},
		{ExternalID: "amz-maggi-1120", Title: "Maggi Noodles 16-pack", Aliases: []string{"maggi", "noodles"}, UnitPrice: 210, DeliveryETA: 1440, Rating: 4.6, Stock: 70},
		{ExternalID: "amz-dairymilk-330", Title: "Cadbury Dairy Milk Silk 3x110g", Aliases: []string{"cadbury", "dairy milk", "chocolate"}, UnitPrice: 285, DeliveryETA: 1440, Rating: 4.6, Stock: 48},
	},

	"flipkart": {
		{ExternalID: "fk-rice-5kg", Title: "Daawat Super Basmati Rice 5kg", Aliases: []string{"rice", "chawal", "basmati"}, UnitPrice: 589, DeliveryETA: 2880, Rating: 4.3, Stock: 55},
		{ExternalID: "fk-toor-2kg", Title: "Fortune Toor Dal 2kg", Aliases: []string{"dal", "daal", "toor dal", "arhar"}, UnitPrice: 328, DeliveryETA: 2880, Rating: 4.2, Stock: 45},
		{ExternalID: "fk-atta-10kg", Title: "Fortune Chakki Fresh Atta 10kg", Aliases: []string{"atta", "flour", "wheat flour"}, UnitPrice: 462, DeliveryETA: 2880, Rating: 4.4, Stock: 38},
		{ExternalID: "fk-oil-5l", Title: "Saffola Gold Oil 5L", Aliases: []string{"oil", "tel", "cooking oil"}, UnitPrice: 745, DeliveryETA: 2880, Rating: 4.3, Stock: 28},
		{ExternalID: "fk-ghee-1l", Title: "Patanjali Cow Ghee 1L", Aliases: []string{"ghee"}, UnitPrice: 580, DeliveryETA: 2880, Rating: 4.4, Stock: 26},
		{ExternalID: "fk-chai-500", Title: "Red Label Tea 500g", Aliases: []string{"tea", "chai", "chai patti"}, UnitPrice: 282, DeliveryETA: 2880, Rating: 4.4, Stock: 40},
		{ExternalID: "fk-sugar-5kg", Title: "Dhampure Sugar 5kg", Aliases: []string{"sugar", "chini", "cheeni"}, UnitPrice: 218, DeliveryETA: 2880, Rating: 4.2, Stock: 52},
	},
}

// BuiltinCatalogNames lists the catalogs Builtin accepts, for config errors.
func BuiltinCatalogNames() []string {
	names := make([]string, 0, len(builtinCatalogs))
	for name := range builtinCatalogs {
		names = append(names, name)
	}
	return names
}
